/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/microsoft/breakeval/internal/luahost"
	"github.com/microsoft/breakeval/internal/trace"
)

const luaPathEnvVar = "LUA_PATH"

// RunScript runs opts.File as the main program. The program keeps running after the
// breakpoint fires; its own exit code is reported.
func RunScript(ctx context.Context, opts Options) (Outcome, error) {
	opts.normalize()
	return runFreestanding(ctx, opts, func(host *luahost.Host) error {
		return host.RunFile(opts.File, "", opts.Args)
	})
}

// RunModule resolves a dotted module name against the working directory and the LUA_PATH
// directories, then runs it as the main program. A module that is a directory runs its
// __main__.lua (or main.lua) entry file. If opts.File is empty the breakpoint is set in the
// file the module resolves to.
func RunModule(ctx context.Context, opts Options, module string) (Outcome, error) {
	opts.normalize()

	roots := ModuleSearchRoots()
	file, _, resolveErr := luahost.ResolveModule(module, roots)
	if resolveErr != nil {
		return Outcome{State: StateArmed, ExitCode: 1}, resolveErr
	}
	if opts.File == "" {
		opts.File = file
	}

	return runFreestanding(ctx, opts, func(host *luahost.Host) error {
		_, runErr := host.RunModule(module, roots, opts.Args)
		return runErr
	})
}

func runFreestanding(ctx context.Context, opts Options, run func(*luahost.Host) error) (Outcome, error) {
	target, targetErr := trace.NewBreakpointTarget(opts.File, opts.Line)
	if targetErr != nil {
		return Outcome{}, targetErr
	}

	sio := newSessionIO(&opts, false)
	host := luahost.NewHost(ctx,
		luahost.WithStdout(sio.hostStdout),
		luahost.WithStderr(sio.hostStderr),
		luahost.WithHostLogger(opts.Logger.WithName("luahost")),
	)
	defer host.Close()

	tracer := newTracer(target, &opts, host, sio, trace.WithStandaloneMode())
	uninstall := tracer.Install(host)
	runErr := run(host)
	uninstall()

	state := tracer.State()
	exitCode := 0

	switch {
	case runErr == nil:
	case isExitRequest(runErr):
		exitCode, _ = luahost.ExitCode(runErr)
	case ctx.Err() != nil:
		return outcomeFrom(state, 1), ctx.Err()
	default:
		exitCode = 1
		if !opts.Quiet {
			reportScriptError(sio.stderr, runErr)
		}
	}

	outcome := outcomeFrom(state, exitCode)
	opts.Logger.V(1).Info("Program finished", "file", target.Path, "line", target.Line, "state", outcome.State.String(), "exitCode", exitCode)

	reemit(&opts, sio, outcome)
	if runErr == nil || isExitRequest(runErr) {
		warnNeverReached(&opts, sio, outcome)
	}
	return outcome, nil
}

func isExitRequest(err error) bool {
	_, isExit := luahost.ExitCode(err)
	return isExit
}

// ModuleSearchRoots returns the directories dotted module names are resolved against:
// the working directory, then the directories of the LUA_PATH templates.
func ModuleSearchRoots() []string {
	var roots []string
	seen := map[string]bool{}
	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		roots = append(roots, dir)
	}

	if cwd, cwdErr := os.Getwd(); cwdErr == nil {
		add(cwd)
	}

	for _, template := range strings.Split(os.Getenv(luaPathEnvVar), ";") {
		i := strings.Index(template, "?")
		if i <= 0 {
			continue
		}
		add(filepath.Clean(template[:i]))
	}
	return roots
}
