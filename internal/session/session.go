/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/microsoft/breakeval/internal/luahost"
	"github.com/microsoft/breakeval/internal/trace"
)

// Comma-separated path fragments; files whose path contains one are never traced,
// in addition to trace.DefaultDenylist.
const BREAKEVAL_TRACE_DENYLIST = "BREAKEVAL_TRACE_DENYLIST"

type State int

const (
	// Breakpoint installed, not reached yet.
	StateArmed State = iota
	// Breakpoint reached and the command was evaluated.
	StateFired
	// Program finished while the breakpoint was still armed.
	StateNeverReached
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "Armed"
	case StateFired:
		return "Fired"
	case StateNeverReached:
		return "NeverReached"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options describe one debugging session of a Lua program.
type Options struct {
	File    string
	Line    int
	Command string
	Args    []string
	Quiet   bool

	// Destinations of program output and diagnostics. Default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Called to terminate the process when the breakpoint requires it. Defaults to os.Exit.
	Exit func(code int)

	Logger logr.Logger
}

// Outcome is what happened during a session.
type Outcome struct {
	State       State
	Termination trace.Termination

	// Exit code the session ends with.
	ExitCode int

	// Output of the breakpoint command.
	Output string

	// Value of the breakpoint command, when it was an expression.
	Value    any
	HasValue bool

	// Error raised by the breakpoint command, if any.
	UserError string

	// Program output captured in quiet mode.
	HostOutput string

	HitFile string
	HitLine int
}

// ErrBreakpointUnwind is the cause the test runner is stopped with after the breakpoint fired inside a test.
var ErrBreakpointUnwind = luahost.ErrBreakpointUnwind

type sessionIO struct {
	stdout io.Writer
	stderr io.Writer

	// Where the program writes. Buffers in quiet test sessions.
	hostStdout io.Writer
	hostStderr io.Writer
	captured   *bytes.Buffer
}

func (o *Options) normalize() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
}

func newSessionIO(opts *Options, captureHost bool) *sessionIO {
	sio := &sessionIO{
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
		hostStdout: opts.Stdout,
		hostStderr: opts.Stderr,
	}
	if captureHost {
		sio.captured = &bytes.Buffer{}
		sio.hostStdout = sio.captured
		sio.hostStderr = sio.captured
	}
	return sio
}

func (sio *sessionIO) capturedText() string {
	if sio.captured == nil {
		return ""
	}
	return sio.captured.String()
}

// flush pushes buffered output of the writers to the operating system.
func (sio *sessionIO) flush() {
	for _, w := range []io.Writer{sio.stdout, sio.stderr} {
		if s, isSyncer := w.(interface{ Sync() error }); isSyncer {
			_ = s.Sync()
		}
	}
}

func newTracer(target trace.BreakpointTarget, opts *Options, host *luahost.Host, sio *sessionIO, extra ...trace.TracerOption) *trace.Tracer {
	tracerOpts := []trace.TracerOption{
		trace.WithDiagnostics(sio.stderr),
		trace.WithLogger(opts.Logger),
		trace.WithEcho(sio.stdout),
	}
	if opts.Quiet {
		tracerOpts = append(tracerOpts, trace.WithQuietMode())
	}
	if denylist, found := traceDenylist(); found {
		tracerOpts = append(tracerOpts, trace.WithDenylist(denylist))
	}
	tracerOpts = append(tracerOpts, extra...)
	return trace.NewTracer(target, opts.Command, luahost.NewEvaluator(host), tracerOpts...)
}

func traceDenylist() ([]string, bool) {
	value, found := os.LookupEnv(BREAKEVAL_TRACE_DENYLIST)
	if !found {
		return nil, false
	}
	denylist := append([]string(nil), trace.DefaultDenylist...)
	for _, pattern := range strings.Split(value, ",") {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			denylist = append(denylist, filepath.ToSlash(pattern))
		}
	}
	return denylist, true
}

func outcomeFrom(state trace.SessionState, exitCode int) Outcome {
	outcome := Outcome{
		State:       StateNeverReached,
		Termination: state.Termination,
		ExitCode:    exitCode,
	}
	if state.Executed {
		outcome.State = StateFired
		outcome.Output = state.CapturedOutput
		outcome.Value = state.Value
		outcome.HasValue = state.HasValue
		outcome.HitFile = state.HitFile
		outcome.HitLine = state.HitLine
		if state.CommandError != nil {
			outcome.UserError = state.CommandError.Error()
		}
	}
	return outcome
}

// reemit writes the command output captured in quiet mode.
func reemit(opts *Options, sio *sessionIO, outcome Outcome) {
	if opts.Quiet && outcome.State == StateFired && outcome.Output != "" {
		fmt.Fprint(sio.stdout, outcome.Output)
	}
}

func warnNeverReached(opts *Options, sio *sessionIO, outcome Outcome) {
	if !opts.Quiet && outcome.State == StateNeverReached {
		fmt.Fprintf(sio.stderr, "Warning: Breakpoint at line %d was never reached\n", opts.Line)
	}
}

func reportScriptError(w io.Writer, err error) {
	var syntaxErr *luahost.SyntaxError
	var scriptErr *luahost.ScriptError
	switch {
	case errors.As(err, &syntaxErr):
		fmt.Fprintf(w, "Syntax Error in %s: %v\n", syntaxErr.File, syntaxErr.Err)
	case errors.As(err, &scriptErr):
		fmt.Fprintln(w, scriptErr.Message)
		if scriptErr.Traceback != "" {
			fmt.Fprintln(w, scriptErr.Traceback)
		}
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}
