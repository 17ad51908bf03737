/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package trace

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrame struct {
	file     string
	line     int
	function string
	scope    *Scope
}

func (f *fakeFrame) File() string     { return f.file }
func (f *fakeFrame) Line() int        { return f.line }
func (f *fakeFrame) Function() string { return f.function }
func (f *fakeFrame) Scope() *Scope    { return f.scope }

type recordingEvaluator struct {
	calls    int
	commands []string
	output   string
	err      error
	panicVal any
	onEval   func()
}

func (e *recordingEvaluator) Evaluate(command string, scope *Scope) Outcome {
	e.calls++
	e.commands = append(e.commands, command)
	if e.onEval != nil {
		e.onEval()
	}
	if e.panicVal != nil {
		panic(e.panicVal)
	}
	return Outcome{Output: e.output, Err: e.err}
}

type fakeHost struct {
	attached *Tracer
	detaches int
}

func (h *fakeHost) AttachTracer(t *Tracer) { h.attached = t }
func (h *fakeHost) DetachTracer()          { h.attached = nil; h.detaches++ }

func writeScript(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("local x = 1\nprint(x)\n"), 0o600))
	return path
}

func newTestTracer(t *testing.T, line int, eval Evaluator, opts ...TracerOption) (*Tracer, string, *bytes.Buffer) {
	t.Helper()
	path := writeScript(t, "prog.lua")
	target, err := NewBreakpointTarget(path, line)
	require.NoError(t, err)
	diag := &bytes.Buffer{}
	opts = append([]TracerOption{WithDiagnostics(diag)}, opts...)
	return NewTracer(target, "print(x)", eval, opts...), target.Path, diag
}

func TestNewBreakpointTargetValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBreakpointTarget(filepath.Join(t.TempDir(), "missing.lua"), 1)
	require.ErrorIs(t, err, ErrTargetNotFound)

	_, err = NewBreakpointTarget(writeScript(t, "a.lua"), 0)
	require.ErrorIs(t, err, ErrInvalidLine)

	_, err = NewBreakpointTarget(t.TempDir(), 3)
	require.ErrorIs(t, err, ErrTargetNotFound)
}

func TestBreakpointTargetResolvesSymlinks(t *testing.T) {
	t.Parallel()

	orig := writeScript(t, "real.lua")
	link := filepath.Join(t.TempDir(), "link.lua")
	if err := os.Symlink(orig, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	viaLink, err := NewBreakpointTarget(link, 2)
	require.NoError(t, err)
	direct, err := NewBreakpointTarget(orig, 2)
	require.NoError(t, err)
	require.Equal(t, direct.Path, viaLink.Path)
}

func TestOnLineFiresAtMostOnce(t *testing.T) {
	t.Parallel()

	eval := &recordingEvaluator{output: "1\n"}
	tracer, path, diag := newTestTracer(t, 2, eval, WithStandaloneMode())
	frame := &fakeFrame{file: path, line: 2, function: "main", scope: NewScope()}

	require.Equal(t, MatchedContinue, tracer.OnLine(frame))
	for i := 0; i < 5; i++ {
		require.Equal(t, NotMatched, tracer.OnLine(frame))
	}

	require.Equal(t, 1, eval.calls)
	require.False(t, tracer.Armed())
	state := tracer.State()
	assert.True(t, state.Executed)
	assert.Equal(t, "1\n", state.CapturedOutput)
	assert.Equal(t, TerminationNaturalContinuation, state.Termination)
	assert.Contains(t, diag.String(), "Breakpoint hit: "+path+":2")
}

func TestOnLineIgnoresOtherLocations(t *testing.T) {
	t.Parallel()

	eval := &recordingEvaluator{}
	tracer, path, _ := newTestTracer(t, 2, eval)

	otherDir := filepath.Join(t.TempDir(), "prog.lua")
	require.NoError(t, os.WriteFile(otherDir, []byte("x\ny\n"), 0o600))

	require.Equal(t, NotMatched, tracer.OnLine(&fakeFrame{file: path, line: 1, scope: NewScope()}))
	require.Equal(t, NotMatched, tracer.OnLine(&fakeFrame{file: filepath.Join(filepath.Dir(path), "other.lua"), line: 2, scope: NewScope()}))
	// Same base name, different directory.
	require.Equal(t, NotMatched, tracer.OnLine(&fakeFrame{file: otherDir, line: 2, scope: NewScope()}))

	require.Zero(t, eval.calls)
	require.True(t, tracer.Armed())
}

func TestTerminationPolicy(t *testing.T) {
	t.Parallel()

	t.Run("test context signals", func(t *testing.T) {
		t.Parallel()
		tracer, path, _ := newTestTracer(t, 2, &recordingEvaluator{output: "x"})
		require.Equal(t, InterestLines, tracer.OnCall("test_addition", path))
		verdict := tracer.OnLine(&fakeFrame{file: path, line: 2, function: "test_addition", scope: NewScope()})
		require.Equal(t, MatchedStop, verdict)
		require.Equal(t, TerminationSignal, tracer.State().Termination)
		require.False(t, tracer.State().ShouldExit)
	})

	t.Run("outside tests exits immediately", func(t *testing.T) {
		t.Parallel()
		tracer, path, _ := newTestTracer(t, 2, &recordingEvaluator{output: "x"})
		require.Equal(t, InterestLines, tracer.OnCall("helper", path))
		verdict := tracer.OnLine(&fakeFrame{file: path, line: 2, function: "helper", scope: NewScope()})
		require.Equal(t, MatchedStop, verdict)
		require.Equal(t, TerminationExitImmediate, tracer.State().Termination)
		require.True(t, tracer.State().ShouldExit)
	})

	t.Run("test context ends on return", func(t *testing.T) {
		t.Parallel()
		tracer, path, _ := newTestTracer(t, 2, &recordingEvaluator{output: "x"})
		tracer.OnCall("TestSomething", path)
		tracer.OnReturn("TestSomething")
		tracer.OnReturn("TestSomething")
		require.Zero(t, tracer.State().InTestContext)
		verdict := tracer.OnLine(&fakeFrame{file: path, line: 2, scope: NewScope()})
		require.Equal(t, MatchedStop, verdict)
		require.Equal(t, TerminationExitImmediate, tracer.State().Termination)
	})
}

func TestCommandErrorDoesNotAbortSession(t *testing.T) {
	t.Parallel()

	errCmd := errors.New("attempt to call a nil value")
	eval := &recordingEvaluator{output: "ERROR: attempt to call a nil value\n", err: errCmd}
	tracer, path, _ := newTestTracer(t, 2, eval, WithStandaloneMode())

	require.Equal(t, MatchedContinue, tracer.OnLine(&fakeFrame{file: path, line: 2, scope: NewScope()}))
	state := tracer.State()
	require.ErrorIs(t, state.CommandError, errCmd)
	require.Nil(t, state.TraceError)
}

func TestInfrastructureFailureDisablesTracing(t *testing.T) {
	t.Parallel()

	eval := &recordingEvaluator{panicVal: "scope snapshot failed"}
	tracer, path, diag := newTestTracer(t, 2, eval)

	require.Equal(t, NotMatched, tracer.OnLine(&fakeFrame{file: path, line: 2, scope: NewScope()}))
	require.False(t, tracer.Armed())
	require.Error(t, tracer.State().TraceError)
	require.Contains(t, diag.String(), "TRACE ERROR: scope snapshot failed")
}

func TestReentrantEventsDuringEvaluationAreIgnored(t *testing.T) {
	t.Parallel()

	eval := &recordingEvaluator{}
	tracer, path, _ := newTestTracer(t, 2, eval, WithStandaloneMode())
	frame := &fakeFrame{file: path, line: 2, scope: NewScope()}
	var nested Verdict = -1
	eval.onEval = func() {
		require.Equal(t, InterestNone, tracer.OnCall("test_nested", path))
		nested = tracer.OnLine(frame)
	}

	require.Equal(t, MatchedContinue, tracer.OnLine(frame))
	require.Equal(t, NotMatched, nested)
	require.Equal(t, 1, eval.calls)
}

func TestQuietModeWarnsOnEmptyOutput(t *testing.T) {
	t.Parallel()

	tracer, path, diag := newTestTracer(t, 2, &recordingEvaluator{output: "  \n"}, WithQuietMode(), WithStandaloneMode())
	tracer.OnLine(&fakeFrame{file: path, line: 2, scope: NewScope()})
	require.Contains(t, diag.String(), "No output captured from command")
}

func TestEchoFramesCommandOutput(t *testing.T) {
	t.Parallel()

	echo := &bytes.Buffer{}
	tracer, path, _ := newTestTracer(t, 2, &recordingEvaluator{output: "1\n"}, WithStandaloneMode(), WithEcho(echo))
	tracer.OnLine(&fakeFrame{file: path, line: 2, scope: NewScope()})
	require.Equal(t, "\n=== BREAKPOINT HIT: "+path+":2 ===\n1\n=== END BREAKPOINT ===\n\n", echo.String())

	quietEcho := &bytes.Buffer{}
	quiet, quietPath, _ := newTestTracer(t, 2, &recordingEvaluator{output: "1\n"}, WithStandaloneMode(), WithQuietMode(), WithEcho(quietEcho))
	quiet.OnLine(&fakeFrame{file: quietPath, line: 2, scope: NewScope()})
	require.Empty(t, quietEcho.String())
	require.Equal(t, "1\n", quiet.State().CapturedOutput)
}

func TestDenylist(t *testing.T) {
	t.Parallel()

	tracer, _, _ := newTestTracer(t, 2, &recordingEvaluator{})
	require.False(t, tracer.Interested("/home/u/proj/lua_modules/share/lua/5.1/busted/init.lua"))
	require.True(t, tracer.Interested("/home/u/proj/src/app.lua"))
	require.Equal(t, InterestNone, tracer.OnCall("test_x", "/home/u/proj/lua_modules/x.lua"))
	require.Zero(t, tracer.State().InTestContext)
}

func TestInstallIsScoped(t *testing.T) {
	t.Parallel()

	tracer, _, _ := newTestTracer(t, 2, &recordingEvaluator{})
	host := &fakeHost{}
	uninstall := tracer.Install(host)
	require.Same(t, tracer, host.attached)

	uninstall()
	uninstall()
	require.Nil(t, host.attached)
	require.Equal(t, 1, host.detaches)
}

func TestIsTestShaped(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTestShaped("test_loop"))
	assert.True(t, IsTestShaped("TestLoop"))
	// Helpers that share the prefix are classified as tests too.
	assert.True(t, IsTestShaped("test_helper"))
	assert.False(t, IsTestShaped("helper_test"))
	assert.False(t, IsTestShaped("main"))
}

func TestBindingsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	b := NewBindings()
	b.Set("total", 0)
	b.Set("num", 1)
	b.Set("total", 1)
	require.Equal(t, []string{"total", "num"}, b.Names())

	v, found := b.Get("total")
	require.True(t, found)
	require.Equal(t, 1, v)

	s := NewScope()
	s.Globals.Set("x", "global")
	s.Locals.Set("x", "local")
	v, _ = s.Lookup("x")
	require.Equal(t, "local", v)
}
