// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package daptest provides an in-memory debug adapter for testing DAP clients.
package daptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/microsoft/breakeval/internal/dap"
)

// Behavior controls how the fake adapter answers.
type Behavior struct {
	// Reason of the stopped event sent after configurationDone. No stopped event is sent if empty.
	StopReason string

	// Send a terminated event after configurationDone instead of a stopped event.
	Terminate bool

	ThreadID int

	// Whether the breakpoint is reported as verified.
	Verified bool

	// Report an empty call stack.
	NoFrames bool

	EvaluateResult string
	EvaluateType   string

	// If set, evaluate requests fail with this message.
	EvaluateError string

	// Commands that get a failure response with the given message.
	FailCommands map[string]string

	// Commands that never get a response.
	IgnoreCommands map[string]bool

	// Text sent in an output event after launch.
	Output string

	// Send a framed message that cannot be decoded before anything else.
	SendUndecodable bool
}

// FakeAdapter is the adapter side of an in-memory DAP connection.
type FakeAdapter struct {
	behavior Behavior
	reader   *bufio.Reader
	writer   io.Writer
	closer   io.Closer

	writeMu sync.Mutex
	seq     int

	mu             sync.Mutex
	commands       []string
	launchArgs     map[string]any
	evaluateArgs   godap.EvaluateArguments
	breakpointFile string
	breakpointLine int
	disconnected   bool
	terminate      bool

	done chan struct{}
}

// NewFakeAdapter starts a fake adapter and returns it together with the client side transport.
func NewFakeAdapter(behavior Behavior) (*FakeAdapter, dap.Transport) {
	clientConn, adapterConn := net.Pipe()
	return Serve(adapterConn, adapterConn, behavior), dap.NewTCPTransport(clientConn)
}

// Serve runs a fake adapter that reads requests from r and writes responses and events to w.
// w is closed when the adapter stops serving.
func Serve(r io.Reader, w io.WriteCloser, behavior Behavior) *FakeAdapter {
	if behavior.ThreadID == 0 {
		behavior.ThreadID = 1
	}

	fa := &FakeAdapter{
		behavior: behavior,
		reader:   bufio.NewReader(r),
		writer:   w,
		closer:   w,
		done:     make(chan struct{}),
	}
	go fa.serve()
	return fa
}

func (fa *FakeAdapter) serve() {
	defer close(fa.done)
	defer fa.closer.Close()

	if fa.behavior.SendUndecodable {
		payload := `{"seq":1,"type":"bogus"}`
		fa.writeMu.Lock()
		_, _ = fmt.Fprintf(fa.writer, "Content-Length: %d\r\n\r\n%s", len(payload), payload)
		fa.writeMu.Unlock()
	}

	for {
		msg, readErr := godap.ReadProtocolMessage(fa.reader)
		if readErr != nil {
			return
		}
		req, isRequest := msg.(godap.RequestMessage)
		if !isRequest {
			continue
		}
		if stop := fa.handle(req); stop {
			return
		}
	}
}

func (fa *FakeAdapter) handle(msg godap.RequestMessage) bool {
	req := msg.GetRequest()

	fa.mu.Lock()
	fa.commands = append(fa.commands, req.Command)
	fa.mu.Unlock()

	if fa.behavior.IgnoreCommands[req.Command] {
		return false
	}
	if failure, shouldFail := fa.behavior.FailCommands[req.Command]; shouldFail {
		fa.sendError(req, failure)
		return false
	}

	switch r := msg.(type) {
	case *godap.InitializeRequest:
		fa.send(&godap.InitializeResponse{
			Response: fa.response(req),
			Body:     godap.Capabilities{SupportsConfigurationDoneRequest: true},
		})
		fa.send(&godap.InitializedEvent{Event: fa.event("initialized")})

	case *godap.SetBreakpointsRequest:
		var breakpoints []godap.Breakpoint
		fa.mu.Lock()
		fa.breakpointFile = r.Arguments.Source.Path
		for i, bp := range r.Arguments.Breakpoints {
			fa.breakpointLine = bp.Line
			breakpoints = append(breakpoints, godap.Breakpoint{Id: i + 1, Verified: fa.behavior.Verified, Line: bp.Line})
		}
		fa.mu.Unlock()
		fa.send(&godap.SetBreakpointsResponse{
			Response: fa.response(req),
			Body:     godap.SetBreakpointsResponseBody{Breakpoints: breakpoints},
		})

	case *godap.LaunchRequest:
		var args map[string]any
		_ = json.Unmarshal(r.Arguments, &args)
		fa.mu.Lock()
		fa.launchArgs = args
		fa.mu.Unlock()
		fa.send(&godap.LaunchResponse{Response: fa.response(req)})
		if fa.behavior.Output != "" {
			fa.send(&godap.OutputEvent{
				Event: fa.event("output"),
				Body:  godap.OutputEventBody{Category: "stdout", Output: fa.behavior.Output},
			})
		}

	case *godap.ConfigurationDoneRequest:
		fa.send(&godap.ConfigurationDoneResponse{Response: fa.response(req)})
		fa.send(&godap.ThreadEvent{
			Event: fa.event("thread"),
			Body:  godap.ThreadEventBody{Reason: "started", ThreadId: fa.behavior.ThreadID},
		})
		switch {
		case fa.behavior.Terminate:
			fa.send(&godap.TerminatedEvent{Event: fa.event("terminated")})
		case fa.behavior.StopReason != "":
			fa.send(&godap.StoppedEvent{
				Event: fa.event("stopped"),
				Body:  godap.StoppedEventBody{Reason: fa.behavior.StopReason, ThreadId: fa.behavior.ThreadID},
			})
		}

	case *godap.StackTraceRequest:
		var frames []godap.StackFrame
		if !fa.behavior.NoFrames {
			fa.mu.Lock()
			frames = []godap.StackFrame{{
				Id:     1000,
				Name:   "main",
				Line:   fa.breakpointLine,
				Source: &godap.Source{Path: fa.breakpointFile},
			}}
			fa.mu.Unlock()
		}
		fa.send(&godap.StackTraceResponse{
			Response: fa.response(req),
			Body:     godap.StackTraceResponseBody{StackFrames: frames, TotalFrames: len(frames)},
		})

	case *godap.EvaluateRequest:
		fa.mu.Lock()
		fa.evaluateArgs = r.Arguments
		fa.mu.Unlock()
		if fa.behavior.EvaluateError != "" {
			fa.sendError(req, fa.behavior.EvaluateError)
			break
		}
		fa.send(&godap.EvaluateResponse{
			Response: fa.response(req),
			Body:     godap.EvaluateResponseBody{Result: fa.behavior.EvaluateResult, Type: fa.behavior.EvaluateType},
		})

	case *godap.DisconnectRequest:
		fa.mu.Lock()
		fa.disconnected = true
		fa.terminate = r.Arguments != nil && r.Arguments.TerminateDebuggee
		fa.mu.Unlock()
		fa.send(&godap.DisconnectResponse{Response: fa.response(req)})
		return true

	default:
		fa.sendError(req, fmt.Sprintf("unsupported command: %s", req.Command))
	}

	return false
}

func (fa *FakeAdapter) nextSeq() int {
	fa.writeMu.Lock()
	defer fa.writeMu.Unlock()
	fa.seq++
	return fa.seq
}

func (fa *FakeAdapter) response(req *godap.Request) godap.Response {
	return godap.Response{
		ProtocolMessage: godap.ProtocolMessage{Seq: fa.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
		Success:         true,
	}
}

func (fa *FakeAdapter) event(name string) godap.Event {
	return godap.Event{
		ProtocolMessage: godap.ProtocolMessage{Seq: fa.nextSeq(), Type: "event"},
		Event:           name,
	}
}

func (fa *FakeAdapter) sendError(req *godap.Request, message string) {
	resp := fa.response(req)
	resp.Success = false
	resp.Message = message
	fa.send(&godap.ErrorResponse{
		Response: resp,
		Body:     godap.ErrorResponseBody{Error: &godap.ErrorMessage{Id: 1, Format: message}},
	})
}

func (fa *FakeAdapter) send(msg godap.Message) {
	fa.writeMu.Lock()
	defer fa.writeMu.Unlock()
	_ = godap.WriteProtocolMessage(fa.writer, msg)
}

// Commands returns the commands of all requests received so far, in order.
func (fa *FakeAdapter) Commands() []string {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]string(nil), fa.commands...)
}

func (fa *FakeAdapter) LaunchArguments() map[string]any {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.launchArgs
}

func (fa *FakeAdapter) EvaluateArguments() godap.EvaluateArguments {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.evaluateArgs
}

// Breakpoint returns the file and line of the last breakpoint set.
func (fa *FakeAdapter) Breakpoint() (string, int) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.breakpointFile, fa.breakpointLine
}

// Disconnected reports whether a disconnect request was received, and whether it asked to terminate the debuggee.
func (fa *FakeAdapter) Disconnected() (bool, bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.disconnected, fa.terminate
}

// Done is closed when the adapter stops serving (after disconnect or when the connection is closed).
func (fa *FakeAdapter) Done() <-chan struct{} {
	return fa.done
}

func (fa *FakeAdapter) Close() error {
	return fa.closer.Close()
}
