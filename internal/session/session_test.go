/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/internal/luahost"
	"github.com/microsoft/breakeval/internal/trace"
	"github.com/microsoft/breakeval/pkg/testutil"
)

type sessionFixture struct {
	opts      Options
	stdout    *bytes.Buffer
	stderr    *bytes.Buffer
	exitCalls []int
}

func newSessionFixture(t *testing.T, name string, src string, line int, command string) *sessionFixture {
	t.Helper()
	f := &sessionFixture{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	f.opts = Options{
		File:    testutil.WriteFile(t, t.TempDir(), name, src),
		Line:    line,
		Command: command,
		Stdout:  f.stdout,
		Stderr:  f.stderr,
		Exit:    func(code int) { f.exitCalls = append(f.exitCalls, code) },
		Logger:  testutil.NewLogForTesting(t.Name()),
	}
	return f
}

const loopProgram = `local function accumulate()
  local total = 0
  for _, num in ipairs({1, 2, 3, 4, 5}) do
    total = total + num
  end
  return total
end
print("result", accumulate())
`

func TestRunScriptEvaluatesFirstLoopIteration(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "loop.lua", loopProgram, 4, "print(total, num)")
	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)

	assert.Equal(t, StateFired, outcome.State)
	assert.Equal(t, trace.TerminationNaturalContinuation, outcome.Termination)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, "0\t1\n", outcome.Output)
	assert.Equal(t, 4, outcome.HitLine)

	out := f.stdout.String()
	assert.Contains(t, out, "=== BREAKPOINT HIT: ")
	assert.Contains(t, out, "0\t1\n=== END BREAKPOINT ===")
	assert.Contains(t, out, "result\t15\n")
	assert.Contains(t, f.stderr.String(), "Breakpoint hit: ")
	assert.Empty(t, f.exitCalls)
}

func TestRunScriptQuietReemitsCommandOutput(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "quiet.lua", "print('before')\nlocal x = 42\nprint('after')\n", 3, "x")
	f.opts.Quiet = true
	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)

	assert.Equal(t, StateFired, outcome.State)
	assert.True(t, outcome.HasValue)
	assert.Equal(t, "before\nafter\n42\n", f.stdout.String())
	assert.NotContains(t, f.stdout.String(), "BREAKPOINT")
}

func TestRunScriptBreakpointNeverReached(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	src := "local x = 1\nif x > 5 then\n  print('big')\nend\nprint('done')\n"
	f := newSessionFixture(t, "branch.lua", src, 3, "print(x)")
	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)

	assert.Equal(t, StateNeverReached, outcome.State)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Empty(t, outcome.Output)
	assert.Equal(t, "done\n", f.stdout.String())
	assert.Contains(t, f.stderr.String(), "Warning: Breakpoint at line 3 was never reached")
}

func TestRunScriptPreservesExitCode(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "exit.lua", "print('a')\nlocal v = 7\nos.exit(4)\n", 3, "v")
	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)

	assert.Equal(t, StateFired, outcome.State)
	assert.Equal(t, 4, outcome.ExitCode)
	assert.Equal(t, "7\n", outcome.Output)
	assert.Empty(t, f.exitCalls)
}

func TestRunScriptCommandErrorIsReportedInBand(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "cmderr.lua", "local x = 1\nprint('end')\n", 2, "error('bad command')")
	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)

	assert.Equal(t, StateFired, outcome.State)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Contains(t, outcome.Output, "ERROR: ")
	assert.Contains(t, outcome.UserError, "bad command")
	assert.Contains(t, f.stdout.String(), "end\n")
}

func TestRunScriptUncaughtError(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "crash.lua", "local t = nil\nlocal y = t.field\n", 1, "print('x')")
	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)

	assert.Equal(t, 1, outcome.ExitCode)
	assert.Contains(t, f.stderr.String(), "crash.lua:2")
	assert.NotContains(t, f.stderr.String(), "never reached")
}

func TestRunScriptSyntaxError(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "syntax.lua", "local = 1\n", 1, "print(1)")
	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)

	assert.Equal(t, 1, outcome.ExitCode)
	assert.Contains(t, f.stderr.String(), "Syntax Error in")

	f.stderr.Reset()
	f.opts.Quiet = true
	_, runErr = RunScript(ctx, f.opts)
	require.NoError(t, runErr)
	assert.NotContains(t, f.stderr.String(), "Syntax Error in")
}

func TestRunScriptMissingFile(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	_, runErr := RunScript(ctx, Options{File: filepath.Join(t.TempDir(), "missing.lua"), Line: 1, Command: "1"})
	require.ErrorIs(t, runErr, trace.ErrTargetNotFound)
}

func TestRunModule(t *testing.T) {
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, filepath.Join("app", "__main__.lua"), "local util = require('app.util')\nlocal n = util.twice(arg[1])\nprint(n)\n")
	testutil.WriteFile(t, dir, filepath.Join("app", "util.lua"), "return { twice = function(s) return tonumber(s) * 2 end }\n")
	testutil.WriteFile(t, dir, filepath.Join("tools", "calc.lua"), "local a = 3\nprint(a * 3)\n")
	t.Setenv(luaPathEnvVar, filepath.Join(dir, "?.lua")+";;")

	stdout := &bytes.Buffer{}
	outcome, runErr := RunModule(ctx, Options{Line: 3, Command: "n", Args: []string{"21"}, Stdout: stdout, Stderr: &bytes.Buffer{}}, "app")
	require.NoError(t, runErr)
	assert.Equal(t, StateFired, outcome.State)
	assert.Equal(t, "42\n", outcome.Output)
	assert.Contains(t, stdout.String(), "42\n")

	outcome, runErr = RunModule(ctx, Options{Line: 2, Command: "a", Quiet: true, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}, "tools.calc")
	require.NoError(t, runErr)
	assert.Equal(t, "3\n", outcome.Output)

	_, runErr = RunModule(ctx, Options{Line: 1, Command: "1", Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}, "tools.missing")
	require.ErrorIs(t, runErr, luahost.ErrModuleNotFound)
}

func TestModuleSearchRoots(t *testing.T) {
	t.Setenv(luaPathEnvVar, "/opt/lua/?.lua;/opt/lua/?/init.lua;;./lib/?.lua")

	roots := ModuleSearchRoots()
	require.GreaterOrEqual(t, len(roots), 3)
	assert.Equal(t, []string{"/opt/lua", "lib"}, roots[len(roots)-2:])
}

const testFile = `local fixture = 10

function test_first()
  assert(fixture == 10)
end

function test_second()
  local items = {3, 4}
  assert(#items == 2)
end

function test_third()
  error("must not run")
end
`

func TestRunTestsStopsAtBreakpointInsideTest(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "spec_test.lua", testFile, 9, "#items")
	outcome, runErr := RunTests(ctx, f.opts, nil)
	require.NoError(t, runErr)

	assert.Equal(t, StateFired, outcome.State)
	assert.Equal(t, trace.TerminationSignal, outcome.Termination)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, "2\n", outcome.Output)
	assert.Empty(t, f.exitCalls)

	out := f.stdout.String()
	assert.Contains(t, out, "test_first PASSED")
	assert.NotContains(t, out, "test_third")
	assert.Contains(t, out, "=== END BREAKPOINT ===")
}

func TestRunTestsQuietShowsOnlyCommandOutput(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "spec_test.lua", testFile, 9, "#items")
	f.opts.Quiet = true
	outcome, runErr := RunTests(ctx, f.opts, nil)
	require.NoError(t, runErr)

	assert.Equal(t, "2\n", f.stdout.String())
	assert.Contains(t, outcome.HostOutput, "test_first PASSED")
	assert.NotContains(t, f.stderr.String(), "PASSED")
}

func TestRunTestsTopLevelBreakpointExitsImmediately(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "spec_test.lua", testFile, 3, "fixture")
	outcome, runErr := RunTests(ctx, f.opts, nil)
	require.NoError(t, runErr)

	assert.Equal(t, trace.TerminationExitImmediate, outcome.Termination)
	assert.Equal(t, []int{0}, f.exitCalls)
	assert.Equal(t, "10\n", outcome.Output)
	assert.NotContains(t, f.stdout.String(), "PASSED")
}

func TestRunTestsFailuresSurfaceInQuietMode(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	src := "function test_bad()\n  error('boom')\nend\n\nfunction test_never()\n  local unused = 1\nend\n"
	f := newSessionFixture(t, "bad_test.lua", src, 6, "unused")
	f.opts.Quiet = true
	outcome, runErr := RunTests(ctx, f.opts, []string{"--run", "bad"})
	require.NoError(t, runErr)

	assert.Equal(t, StateNeverReached, outcome.State)
	assert.Equal(t, luahost.TestsFailed, outcome.ExitCode)
	assert.Contains(t, f.stderr.String(), "test_bad FAILED")
	assert.Empty(t, f.stdout.String())
}

func TestParseTestArgs(t *testing.T) {
	t.Parallel()

	filter, parseErr := parseTestArgs(nil)
	require.NoError(t, parseErr)
	assert.Nil(t, filter)

	filter, parseErr = parseTestArgs([]string{"-k", "^test_s"})
	require.NoError(t, parseErr)
	assert.True(t, filter.MatchString("test_second"))

	_, parseErr = parseTestArgs([]string{"--run", "("})
	require.ErrorIs(t, parseErr, ErrInvalidTestArgs)

	_, parseErr = parseTestArgs([]string{"extra"})
	require.ErrorIs(t, parseErr, ErrInvalidTestArgs)

	_, parseErr = parseTestArgs([]string{"--unknown"})
	require.ErrorIs(t, parseErr, ErrInvalidTestArgs)
}

func TestRunTestsReportsMissingTests(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "empty_test.lua", "local function helper()\n  return 1\nend\n", 2, "1")
	outcome, runErr := RunTests(ctx, f.opts, nil)
	require.NoError(t, runErr)

	assert.Equal(t, StateNeverReached, outcome.State)
	assert.Equal(t, luahost.TestsNotFound, outcome.ExitCode)
	assert.Contains(t, f.stderr.String(), luahost.ErrNoTestsFound.Error())
}

func TestTraceDenylistFromEnvironment(t *testing.T) {
	// Not parallel: changes the process environment.
	t.Setenv(BREAKEVAL_TRACE_DENYLIST, " /generated/ ,")
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	f := newSessionFixture(t, "unused.lua", "", 1, "print(v)")
	f.opts.File = testutil.WriteFile(t, t.TempDir(), "generated/gen.lua", "local v = 3\nprint(v)\n")
	f.opts.Line = 2

	outcome, runErr := RunScript(ctx, f.opts)
	require.NoError(t, runErr)
	assert.Equal(t, StateNeverReached, outcome.State)
	assert.Equal(t, "3\n", f.stdout.String())

	denylist, found := traceDenylist()
	require.True(t, found)
	assert.Equal(t, append(append([]string(nil), trace.DefaultDenylist...), "/generated/"), denylist)
}
