/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/spf13/pflag"

	"github.com/microsoft/breakeval/internal/luahost"
	"github.com/microsoft/breakeval/internal/trace"
)

var ErrInvalidTestArgs = errors.New("invalid test arguments")

// RunTests runs the tests defined in opts.File with the breakpoint armed.
// testArgs accept "--run <regexp>" (or "-k <regexp>") to select tests by name.
//
// A breakpoint reached inside a test stops the test run; the session then succeeds unless
// an earlier test failed. A breakpoint reached in the top-level code of the test file ends the
// process with exit code 0 through opts.Exit, after output is flushed.
func RunTests(ctx context.Context, opts Options, testArgs []string) (Outcome, error) {
	opts.normalize()

	filter, filterErr := parseTestArgs(testArgs)
	if filterErr != nil {
		return Outcome{}, filterErr
	}

	target, targetErr := trace.NewBreakpointTarget(opts.File, opts.Line)
	if targetErr != nil {
		return Outcome{}, targetErr
	}

	sio := newSessionIO(&opts, opts.Quiet)
	host := luahost.NewHost(ctx,
		luahost.WithStdout(sio.hostStdout),
		luahost.WithStderr(sio.hostStderr),
		luahost.WithHostLogger(opts.Logger.WithName("luahost")),
	)
	defer host.Close()

	tracer := newTracer(target, &opts, host, sio)
	uninstall := tracer.Install(host)
	report, runErr := host.RunTests(target.Path, filter, sio.hostStdout)
	uninstall()

	state := tracer.State()
	log := opts.Logger.WithValues("file", target.Path, "line", target.Line)

	var outcome Outcome
	switch {
	case runErr != nil:
		outcome = outcomeFrom(state, luahost.TestsErrored)
		reportScriptError(sio.hostStderr, runErr)

	case report.Stopped != nil:
		if stopErr := ctx.Err(); stopErr != nil && !luahost.IsBreakpointUnwind(report.Stopped) {
			if _, isExit := luahost.ExitCode(report.Stopped); !isExit {
				return outcomeFrom(state, luahost.TestsErrored), stopErr
			}
		}

		exitCode := 0
		if code, isExit := luahost.ExitCode(report.Stopped); isExit {
			exitCode = code
		} else if report.Failed() > 0 {
			exitCode = luahost.TestsFailed
		}
		outcome = outcomeFrom(state, exitCode)

	default:
		outcome = outcomeFrom(state, report.ExitCode())
		if outcome.ExitCode == luahost.TestsNotFound {
			reportScriptError(sio.hostStderr, fmt.Errorf("%w in %s", luahost.ErrNoTestsFound, target.Path))
		}
	}

	outcome.HostOutput = sio.capturedText()
	log.V(1).Info("Test session finished", "state", outcome.State.String(), "termination", outcome.Termination.String(), "exitCode", outcome.ExitCode)

	// In quiet mode runner output only matters when something went wrong besides the breakpoint.
	if opts.Quiet && outcome.ExitCode != 0 {
		fmt.Fprint(sio.stderr, outcome.HostOutput)
	}
	reemit(&opts, sio, outcome)
	warnNeverReached(&opts, sio, outcome)

	if outcome.Termination == trace.TerminationExitImmediate {
		sio.flush()
		opts.Exit(0)
	}

	return outcome, nil
}

func parseTestArgs(args []string) (*regexp.Regexp, error) {
	fs := pflag.NewFlagSet("tests", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	run := fs.StringP("run", "k", "", "Run only tests whose names match the regular expression")

	if parseErr := fs.Parse(args); parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTestArgs, parseErr)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", ErrInvalidTestArgs, fs.Args())
	}
	if *run == "" {
		return nil, nil
	}

	filter, compileErr := regexp.Compile(*run)
	if compileErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTestArgs, compileErr)
	}
	return filter, nil
}
