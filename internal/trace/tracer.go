/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/microsoft/breakeval/pkg/resiliency"
)

type Verdict int

const (
	NotMatched Verdict = iota
	MatchedContinue
	MatchedStop
)

func (v Verdict) String() string {
	switch v {
	case NotMatched:
		return "NotMatched"
	case MatchedContinue:
		return "MatchedContinue"
	case MatchedStop:
		return "MatchedStop"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Termination describes how the program should proceed after the breakpoint fired.
type Termination int

const (
	TerminationNone Termination = iota
	// Program runs to completion (standalone programs).
	TerminationNaturalContinuation
	// The current test is unwound with a breakpoint signal; the harness reports success.
	TerminationSignal
	// The process exits with code 0 right away, after output is flushed.
	TerminationExitImmediate
)

func (t Termination) String() string {
	switch t {
	case TerminationNone:
		return "None"
	case TerminationNaturalContinuation:
		return "NaturalContinuation"
	case TerminationSignal:
		return "Signal"
	case TerminationExitImmediate:
		return "ExitImmediate"
	default:
		return fmt.Sprintf("Termination(%d)", int(t))
	}
}

// Interest tells the host whether events from a function should be delivered at all.
type Interest int

const (
	InterestNone Interest = iota
	InterestLines
)

// Frame is the view of an executing frame the tracer needs. It is only valid for the
// duration of the callback it was passed to.
type Frame interface {
	File() string
	Line() int
	Function() string
	Scope() *Scope
}

// Outcome is the result of evaluating a command.
type Outcome struct {
	// Everything the command printed, including "ERROR: ..." text if it failed.
	Output string

	// Value of the command if it was evaluated as an expression.
	Value    any
	HasValue bool

	// Error raised by the command itself, if any. User command errors never abort the session.
	Err error
}

type Evaluator interface {
	Evaluate(command string, scope *Scope) Outcome
}

// Host is an interpreter host that can deliver trace events to a tracer.
type Host interface {
	AttachTracer(t *Tracer)
	DetachTracer()
}

// SessionState is the mutable state of a debugging session.
type SessionState struct {
	Executed       bool
	ShouldExit     bool
	CapturedOutput string
	InTestContext  int
	HitFile        string
	HitLine        int
	Termination    Termination
	Value          any
	HasValue       bool
	CommandError   error
	TraceError     error
}

var DefaultDenylist = []string{
	"/lua_modules/",
	"/.luarocks/",
	"/share/lua/",
	"/lib/lua/",
	"/vendor/",
}

type Tracer struct {
	target     BreakpointTarget
	targetBase string
	command    string
	evaluator  Evaluator
	standalone bool
	quiet      bool
	diag       io.Writer
	echo       io.Writer
	log        logr.Logger
	denylist   []string

	lock      *sync.Mutex
	armed     bool
	state     SessionState
	pathCache map[string]string
}

type TracerOption func(*Tracer)

// WithStandaloneMode makes the tracer let the program continue after the breakpoint fires.
func WithStandaloneMode() TracerOption {
	return func(t *Tracer) { t.standalone = true }
}

func WithQuietMode() TracerOption {
	return func(t *Tracer) { t.quiet = true }
}

// WithDiagnostics sets the writer for breakpoint notifications and trace errors.
// It must not be a writer that gets redirected while the command runs.
func WithDiagnostics(w io.Writer) TracerOption {
	return func(t *Tracer) { t.diag = w }
}

// WithEcho makes the tracer write the command output to w as soon as the breakpoint fires,
// framed by "=== BREAKPOINT HIT ===" and "=== END BREAKPOINT ===" lines. Ignored in quiet mode.
func WithEcho(w io.Writer) TracerOption {
	return func(t *Tracer) { t.echo = w }
}

func WithLogger(log logr.Logger) TracerOption {
	return func(t *Tracer) { t.log = log }
}

func WithDenylist(patterns []string) TracerOption {
	return func(t *Tracer) { t.denylist = append([]string(nil), patterns...) }
}

func NewTracer(target BreakpointTarget, command string, evaluator Evaluator, opts ...TracerOption) *Tracer {
	t := &Tracer{
		target:     target,
		targetBase: filepath.Base(target.Path),
		command:    command,
		evaluator:  evaluator,
		diag:       os.Stderr,
		log:        logr.Discard(),
		denylist:   DefaultDenylist,
		lock:       &sync.Mutex{},
		armed:      true,
		pathCache:  map[string]string{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Install attaches the tracer to the host and returns a function that detaches it.
func (t *Tracer) Install(h Host) func() {
	h.AttachTracer(t)
	var once sync.Once
	return func() {
		once.Do(h.DetachTracer)
	}
}

func (t *Tracer) Target() BreakpointTarget {
	return t.target
}

func (t *Tracer) Command() string {
	return t.command
}

func (t *Tracer) Armed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.armed
}

func (t *Tracer) Disarm() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.armed = false
}

// State returns a snapshot of the session state.
func (t *Tracer) State() SessionState {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.state
}

// Interested reports whether events from the file should be traced at all.
func (t *Tracer) Interested(file string) bool {
	slashed := filepath.ToSlash(file)
	for _, pattern := range t.denylist {
		if strings.Contains(slashed, pattern) {
			return false
		}
	}
	return true
}

// OnCall is invoked when a function starts executing.
func (t *Tracer) OnCall(function string, file string) Interest {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.armed || t.state.Executed {
		return InterestNone
	}
	if !t.Interested(file) {
		return InterestNone
	}
	if IsTestShaped(function) {
		t.state.InTestContext++
	}
	return InterestLines
}

// OnReturn is invoked when a function returns, normally or not.
func (t *Tracer) OnReturn(function string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if IsTestShaped(function) && t.state.InTestContext > 0 {
		t.state.InTestContext--
	}
}

// OnLine is invoked before a line of code executes.
func (t *Tracer) OnLine(frame Frame) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			err := resiliency.MakePanicError(r, t.log)
			t.lock.Lock()
			t.traceFailed(err)
			t.lock.Unlock()
			verdict = NotMatched
		}
	}()

	if !t.claim(frame) {
		return NotMatched
	}

	// The lock is not held while the command runs: the command may call traced functions.
	outcome := t.evaluator.Evaluate(t.command, frame.Scope())

	t.lock.Lock()
	defer t.lock.Unlock()
	return t.complete(outcome)
}

// claim checks the frame against the target and, on a match, marks the session as executed
// so that no other event can fire the breakpoint.
func (t *Tracer) claim(frame Frame) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.armed || t.state.Executed {
		return false
	}
	if frame.Line() != t.target.Line {
		return false
	}
	file := frame.File()
	if filepath.Base(file) != t.targetBase {
		return false
	}
	if t.canonical(file) != t.target.Path {
		return false
	}

	t.state.Executed = true
	t.armed = false
	t.state.HitFile = file
	t.state.HitLine = frame.Line()

	fmt.Fprintf(t.diag, "Breakpoint hit: %s:%d\n", t.state.HitFile, t.state.HitLine)
	if t.echoing() {
		fmt.Fprintf(t.echo, "\n=== BREAKPOINT HIT: %s:%d ===\n", t.state.HitFile, t.state.HitLine)
	}
	t.log.V(1).Info("Breakpoint hit", "file", t.state.HitFile, "line", t.state.HitLine, "function", frame.Function())
	return true
}

// Must be called with the lock held.
func (t *Tracer) complete(outcome Outcome) Verdict {
	t.state.CapturedOutput = outcome.Output
	t.state.Value = outcome.Value
	t.state.HasValue = outcome.HasValue
	t.state.CommandError = outcome.Err

	if t.quiet && strings.TrimSpace(outcome.Output) == "" {
		fmt.Fprintln(t.diag, "Warning: No output captured from command")
	}
	if t.echoing() {
		fmt.Fprint(t.echo, outcome.Output)
		fmt.Fprint(t.echo, "=== END BREAKPOINT ===\n\n")
	}

	switch {
	case t.standalone:
		t.state.Termination = TerminationNaturalContinuation
		return MatchedContinue
	case t.state.InTestContext > 0:
		t.state.Termination = TerminationSignal
		return MatchedStop
	default:
		t.state.Termination = TerminationExitImmediate
		t.state.ShouldExit = true
		return MatchedStop
	}
}

func (t *Tracer) echoing() bool {
	return t.echo != nil && !t.quiet
}

// Must be called with the lock held.
func (t *Tracer) traceFailed(err error) {
	t.armed = false
	t.state.TraceError = err
	fmt.Fprintf(t.diag, "TRACE ERROR: %v\n", err)
}

// Must be called with the lock held.
func (t *Tracer) canonical(file string) string {
	if p, found := t.pathCache[file]; found {
		return p
	}
	p := CanonicalPath(file)
	t.pathCache[file] = p
	return p
}

// IsTestShaped reports whether a function name looks like a test entry point.
func IsTestShaped(function string) bool {
	return strings.HasPrefix(function, "test_") || strings.HasPrefix(function, "Test")
}
