/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package luahost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/microsoft/breakeval/internal/trace"
)

// Host runs Lua programs in-process and delivers trace events from the code it loads
// to an attached tracer.
//
// Host is not goroutine-safe: a Host and the programs it runs must be driven from a single goroutine.
type Host struct {
	L *lua.LState

	log    logr.Logger
	stdout io.Writer
	stderr io.Writer

	// Current destination of print() and io.write(). Replaced while a breakpoint command runs.
	outputs []io.Writer

	runCtx context.Context
	cancel context.CancelCauseFunc

	tracerLock *sync.Mutex
	tracer     *trace.Tracer

	// Names of instrumented functions that are currently executing, innermost last.
	callStack []string

	closed bool
}

type HostOption func(*Host)

func WithStdout(w io.Writer) HostOption {
	return func(h *Host) { h.stdout = w }
}

func WithStderr(w io.Writer) HostOption {
	return func(h *Host) { h.stderr = w }
}

func WithHostLogger(log logr.Logger) HostOption {
	return func(h *Host) { h.log = log }
}

// NewHost creates a Lua interpreter whose programs run until the context is done
// or the program is stopped by a breakpoint or os.exit().
func NewHost(ctx context.Context, opts ...HostOption) *Host {
	h := &Host{
		log:        logr.Discard(),
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		tracerLock: &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(h)
	}

	h.runCtx, h.cancel = context.WithCancelCause(ctx)

	h.L = lua.NewState(lua.Options{IncludeGoStackTrace: false})
	h.L.SetContext(h.runCtx)
	h.installBuiltins()

	return h
}

func (h *Host) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.cancel(context.Canceled)
	h.L.Close()
}

// AttachTracer implements trace.Host.
func (h *Host) AttachTracer(t *trace.Tracer) {
	h.tracerLock.Lock()
	defer h.tracerLock.Unlock()
	h.tracer = t
}

// DetachTracer implements trace.Host.
func (h *Host) DetachTracer() {
	h.tracerLock.Lock()
	defer h.tracerLock.Unlock()
	h.tracer = nil
}

func (h *Host) currentTracer() *trace.Tracer {
	h.tracerLock.Lock()
	defer h.tracerLock.Unlock()
	return h.tracer
}

// Stopped returns the reason the running program was stopped, or nil if it was not.
func (h *Host) Stopped() error {
	if h.runCtx.Err() == nil {
		return nil
	}
	return context.Cause(h.runCtx)
}

// Stop makes the running program unwind at its next instruction.
func (h *Host) Stop(cause error) {
	h.cancel(cause)
}

// LoadFile loads a Lua source file. Files the attached tracer is interested in are instrumented.
func (h *Host) LoadFile(path string) (*lua.LFunction, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve path '%s': %w", path, err)
	}

	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("could not read Lua source file '%s': %w", abs, err)
	}

	instrument := true
	if t := h.currentTracer(); t != nil {
		instrument = t.Interested(abs)
	}
	return h.LoadSource(src, abs, instrument)
}

// LoadSource compiles Lua source code into a function. The chunk name is used as the file name
// in trace events and error messages.
func (h *Host) LoadSource(src []byte, chunkName string, instrument bool) (*lua.LFunction, error) {
	chunk, err := parse.Parse(bytes.NewReader(stripShebang(src)), chunkName)
	if err != nil {
		return nil, &SyntaxError{File: chunkName, Err: err}
	}
	if instrument {
		chunk = Instrument(chunk)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, &SyntaxError{File: chunkName, Err: err}
	}
	return h.L.NewFunctionFromProto(proto), nil
}

// Call runs a Lua function in protected mode and returns its results.
// Trace bookkeeping for functions that were unwound by an error is repaired before returning.
func (h *Host) Call(fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	depth := len(h.callStack)
	base := h.L.GetTop()

	err := h.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...)
	if err != nil {
		h.unwindTo(depth)
		h.L.SetTop(base)
		if stopped := h.Stopped(); stopped != nil {
			return nil, stopped
		}
		return nil, newScriptError(err)
	}

	top := h.L.GetTop()
	results := make([]lua.LValue, 0, top-base)
	for i := base + 1; i <= top; i++ {
		results = append(results, h.L.Get(i))
	}
	h.L.SetTop(base)
	return results, nil
}

func (h *Host) unwindTo(depth int) {
	t := h.currentTracer()
	for len(h.callStack) > depth {
		name := h.callStack[len(h.callStack)-1]
		h.callStack = h.callStack[:len(h.callStack)-1]
		if t != nil {
			t.OnReturn(name)
		}
	}
}

func (h *Host) output() io.Writer {
	if len(h.outputs) > 0 {
		return h.outputs[len(h.outputs)-1]
	}
	return h.stdout
}

// redirectOutput sends print() and io.write() output to w until the returned function is called.
func (h *Host) redirectOutput(w io.Writer) func() {
	h.outputs = append(h.outputs, w)
	n := len(h.outputs)
	return func() {
		h.outputs = h.outputs[:n-1]
	}
}

func (h *Host) installBuiltins() {
	L := h.L

	L.SetGlobal(lineHookName, L.NewFunction(h.lineHook))
	L.SetGlobal(callHookName, L.NewFunction(h.callHook))
	L.SetGlobal(returnHookName, L.NewFunction(h.returnHook))

	L.SetGlobal("print", L.NewFunction(h.print))
	L.SetGlobal("dofile", L.NewFunction(h.dofile))
	L.SetGlobal("loadfile", L.NewFunction(h.loadfile))

	if ioTable, isTable := L.GetGlobal("io").(*lua.LTable); isTable {
		ioTable.RawSetString("write", L.NewFunction(h.write))
	}
	if osTable, isTable := L.GetGlobal("os").(*lua.LTable); isTable {
		osTable.RawSetString("exit", L.NewFunction(h.exit))
	}

	if pkg, isTable := L.GetGlobal("package").(*lua.LTable); isTable {
		if loaders, hasLoaders := pkg.RawGetString("loaders").(*lua.LTable); hasLoaders {
			// Slot 2 is the Lua file searcher.
			loaders.RawSetInt(2, L.NewFunction(h.searchModule))
		}
	}
}

func (h *Host) lineHook(L *lua.LState) int {
	t := h.currentTracer()
	if t == nil || !t.Armed() {
		return 0
	}

	line := L.CheckInt(1)
	dbg, found := callerFrame(L)
	if !found {
		return 0
	}

	frame := newLuaFrame(L, dbg, line, h.currentFunction())
	verdict := t.OnLine(frame)
	if verdict == trace.NotMatched {
		return 0
	}

	if err := frame.commit(); err != nil {
		h.log.Error(err, "Could not write back local variables", "file", frame.File(), "line", line)
	}

	if verdict == trace.MatchedStop {
		state := t.State()
		var cause error = ErrBreakpointUnwind
		if state.Termination == trace.TerminationExitImmediate {
			cause = &ExitError{Code: 0, Breakpoint: true}
		}
		h.Stop(cause)
		L.RaiseError("%s", cause.Error())
	}
	return 0
}

func (h *Host) callHook(L *lua.LState) int {
	name := L.OptString(1, anonymousFunctionName)
	h.callStack = append(h.callStack, name)

	if t := h.currentTracer(); t != nil {
		file := ""
		if dbg, found := callerFrame(L); found {
			file = dbg.Source
		}
		t.OnCall(name, file)
	}
	return 0
}

func (h *Host) returnHook(L *lua.LState) int {
	name := L.OptString(1, anonymousFunctionName)
	if n := len(h.callStack); n > 0 && h.callStack[n-1] == name {
		h.callStack = h.callStack[:n-1]
	}
	if t := h.currentTracer(); t != nil {
		t.OnReturn(name)
	}
	// Return every argument after the function name.
	return L.GetTop() - 1
}

func (h *Host) currentFunction() string {
	if len(h.callStack) == 0 {
		return mainChunkName
	}
	return h.callStack[len(h.callStack)-1]
}

func (h *Host) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	fmt.Fprintln(h.output(), strings.Join(parts, "\t"))
	return 0
}

func (h *Host) write(L *lua.LState) int {
	w := h.output()
	top := L.GetTop()
	for i := 1; i <= top; i++ {
		L.CheckTypes(i, lua.LTNumber, lua.LTString)
		if _, err := io.WriteString(w, lua.LVAsString(L.Get(i))); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
	}
	L.Push(lua.LTrue)
	return 1
}

func (h *Host) exit(L *lua.LState) int {
	code := 0
	switch v := L.Get(1).(type) {
	case lua.LNumber:
		code = int(v)
	case lua.LBool:
		if !bool(v) {
			code = 1
		}
	}
	cause := &ExitError{Code: code}
	h.Stop(cause)
	L.RaiseError("%s", cause.Error())
	return 0
}

func (h *Host) dofile(L *lua.LState) int {
	path := L.CheckString(1)
	fn, err := h.LoadFile(path)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	top := L.GetTop()
	L.Push(fn)
	L.Call(0, lua.MultRet)
	return L.GetTop() - top
}

func (h *Host) loadfile(L *lua.LState) int {
	path := L.CheckString(1)
	fn, err := h.LoadFile(path)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(fn)
	return 1
}

// searchModule replaces the Lua file searcher of package.loaders so that modules are
// loaded (and instrumented) the same way as the main program.
func (h *Host) searchModule(L *lua.LState) int {
	name := L.CheckString(1)
	path, tried := findOnPackagePath(L, name)
	if path == "" {
		L.Push(lua.LString(tried))
		return 1
	}
	fn, err := h.LoadFile(path)
	if err != nil {
		L.RaiseError("error loading module '%s' from file '%s':\n\t%s", name, path, err.Error())
	}
	L.Push(fn)
	return 1
}

func findOnPackagePath(L *lua.LState, name string) (string, string) {
	pkg, isTable := L.GetGlobal("package").(*lua.LTable)
	if !isTable {
		return "", "\n\tpackage table is missing"
	}
	searchPath := lua.LVAsString(pkg.RawGetString("path"))
	fileName := strings.ReplaceAll(name, ".", string(os.PathSeparator))

	var tried strings.Builder
	for _, pattern := range strings.Split(searchPath, ";") {
		if pattern == "" {
			continue
		}
		candidate := strings.ReplaceAll(pattern, "?", fileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, ""
		}
		fmt.Fprintf(&tried, "\n\tno file '%s'", candidate)
	}
	return "", tried.String()
}

// callerFrame returns the innermost Lua (non-Go) frame below the running builtin.
func callerFrame(L *lua.LState) (*lua.Debug, bool) {
	for level := 1; ; level++ {
		dbg, found := L.GetStack(level)
		if !found {
			return nil, false
		}
		if _, err := L.GetInfo("Sl", dbg, lua.LNil); err != nil {
			return nil, false
		}
		if dbg.What != "G" {
			return dbg, true
		}
	}
}

func stripShebang(src []byte) []byte {
	if !bytes.HasPrefix(src, []byte("#")) {
		return src
	}
	// Keep the newline so line numbers stay intact.
	if i := bytes.IndexByte(src, '\n'); i >= 0 {
		return src[i:]
	}
	return nil
}

// ScriptError is an error raised by a Lua program.
type ScriptError struct {
	Message   string
	Traceback string
}

func (e *ScriptError) Error() string {
	return e.Message
}

func newScriptError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg := ""
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		return &ScriptError{Message: msg, Traceback: apiErr.StackTrace}
	}
	return &ScriptError{Message: err.Error()}
}

// SyntaxError is returned when a Lua source file cannot be compiled.
type SyntaxError struct {
	File string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %s: %v", e.File, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}
