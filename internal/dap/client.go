// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/smallnest/chanx"

	"github.com/microsoft/breakeval/pkg/resiliency"
)

const (
	DefaultRequestTimeout = 30 * time.Second

	clientID   = "breakeval"
	clientName = "breakeval"

	eventDispatchInitialCapacity = 16
)

// EventHandler is called for every event with the name it was registered for.
// Handlers run on a dedicated goroutine, one at a time, in the order events were received.
type EventHandler func(event dap.EventMessage)

type ClientConfig struct {
	// How long to wait for a response to a request. Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	Logger logr.Logger
}

type requestResult struct {
	msg dap.ResponseMessage
	err error
}

// Client talks to a debug adapter over a Transport.
//
// A background goroutine reads every message the adapter sends. Responses are matched to waiting
// requests by sequence number. Events are appended to a queue consumed by WaitForEvent, and are
// also delivered to handlers registered with OnEvent.
type Client struct {
	transport      Transport
	requestTimeout time.Duration
	log            logr.Logger

	seq atomic.Int64

	pendingMu sync.Mutex
	pending   map[int]chan requestResult
	stopErr   error

	eventsMu      sync.Mutex
	events        []dap.EventMessage
	eventsChanged chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler
	dispatch   *chanx.UnboundedChan[dap.EventMessage]

	lifetimeCtx  context.Context
	cancel       context.CancelFunc
	readerDone   chan struct{}
	dispatchDone chan struct{}
	closing      atomic.Bool
	closeOnce    sync.Once
}

func NewClient(ctx context.Context, transport Transport, config ClientConfig) *Client {
	lifetimeCtx, cancel := context.WithCancel(ctx)
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		transport:      transport,
		requestTimeout: timeout,
		log:            log.WithName("dap-client"),
		pending:        make(map[int]chan requestResult),
		eventsChanged:  make(chan struct{}),
		handlers:       make(map[string][]EventHandler),
		dispatch:       chanx.NewUnboundedChan[dap.EventMessage](lifetimeCtx, eventDispatchInitialCapacity),
		lifetimeCtx:    lifetimeCtx,
		cancel:         cancel,
		readerDone:     make(chan struct{}),
		dispatchDone:   make(chan struct{}),
	}

	go c.readLoop()
	go c.dispatchLoop()

	return c
}

func (c *Client) readLoop() {
	defer close(c.readerDone)

	for {
		msg, readErr := c.transport.ReadMessage()
		if readErr != nil {
			if errors.Is(readErr, ErrUnknownMessage) {
				c.log.V(1).Info("Skipping message that could not be decoded", "error", readErr.Error())
				continue
			}
			if c.lifetimeCtx.Err() == nil && !c.closing.Load() {
				c.log.V(1).Info("Stopped reading from debug adapter", "error", readErr.Error())
			}
			c.failPending(fmt.Errorf("%w: %v", ErrServiceStopped, readErr))
			return
		}

		switch m := msg.(type) {
		case dap.ResponseMessage:
			c.routeResponse(m)

		case dap.EventMessage:
			c.enqueueEvent(m)
			select {
			case c.dispatch.In <- m:
			case <-c.lifetimeCtx.Done():
			}

		case dap.RequestMessage:
			// Reverse requests (runInTerminal, startDebugging) are not supported.
			c.rejectReverseRequest(m)

		default:
			c.log.V(1).Info("Ignoring unexpected message", "type", fmt.Sprintf("%T", msg))
		}
	}
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatchDone)

	for ev := range c.dispatch.Out {
		name := ev.GetEvent().Event
		c.handlersMu.RLock()
		handlers := append([]EventHandler(nil), c.handlers[name]...)
		c.handlersMu.RUnlock()

		for _, h := range handlers {
			handlerErr := resiliency.CallWithRecovery(c.log, func() error {
				h(ev)
				return nil
			})
			if handlerErr != nil {
				c.log.Error(handlerErr, "Event handler failed", "event", name)
			}
		}
	}
}

func (c *Client) routeResponse(resp dap.ResponseMessage) {
	r := resp.GetResponse()

	c.pendingMu.Lock()
	ch, found := c.pending[r.RequestSeq]
	delete(c.pending, r.RequestSeq)
	c.pendingMu.Unlock()

	if !found {
		c.log.Info("Received response for unknown request", "requestSeq", r.RequestSeq, "command", r.Command)
		return
	}
	ch <- requestResult{msg: resp}
}

func (c *Client) enqueueEvent(ev dap.EventMessage) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events = append(c.events, ev)
	close(c.eventsChanged)
	c.eventsChanged = make(chan struct{})
}

func (c *Client) rejectReverseRequest(req dap.RequestMessage) {
	r := req.GetRequest()
	c.log.V(1).Info("Rejecting reverse request", "command", r.Command)

	resp := &dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "response"},
			RequestSeq:      r.Seq,
			Command:         r.Command,
			Success:         false,
			Message:         "not supported",
		},
	}
	if writeErr := c.transport.WriteMessage(resp); writeErr != nil {
		c.log.V(1).Info("Could not reject reverse request", "command", r.Command, "error", writeErr.Error())
	}
}

// failPending resolves every waiting request with the error. Requests sent afterwards fail immediately.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.stopErr == nil {
		c.stopErr = err
	}
	for seq, ch := range c.pending {
		ch <- requestResult{err: c.stopErr}
		delete(c.pending, seq)
	}
}

func (c *Client) nextSeq() int {
	return int(c.seq.Add(1))
}

// OnEvent registers a handler for events with the given name.
func (c *Client) OnEvent(name string, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[name] = append(c.handlers[name], handler)
}

// SendRequest assigns the request a sequence number, sends it and waits for the matching response.
// A response with success=false is returned together with a *ResponseError.
// ErrRequestTimeout is returned if no response arrives within the request timeout.
func (c *Client) SendRequest(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	r := req.GetRequest()
	r.Type = "request"
	r.Seq = c.nextSeq()

	ch := make(chan requestResult, 1)
	c.pendingMu.Lock()
	if c.stopErr != nil {
		stopErr := c.stopErr
		c.pendingMu.Unlock()
		return nil, stopErr
	}
	c.pending[r.Seq] = ch
	c.pendingMu.Unlock()

	c.log.V(1).Info("Sending request", "command", r.Command, "seq", r.Seq)

	if writeErr := c.transport.WriteMessage(req); writeErr != nil {
		c.forget(r.Seq)
		return nil, fmt.Errorf("failed to send %s request: %w", r.Command, writeErr)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if resp := res.msg.GetResponse(); !resp.Success {
			return res.msg, &ResponseError{Command: r.Command, Message: failureMessage(res.msg)}
		}
		return res.msg, nil

	case <-timer.C:
		c.forget(r.Seq)
		return nil, fmt.Errorf("%w waiting for %s response", ErrRequestTimeout, r.Command)

	case <-ctx.Done():
		c.forget(r.Seq)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(seq int) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, seq)
}

func failureMessage(resp dap.ResponseMessage) string {
	if errResp, isErrResp := resp.(*dap.ErrorResponse); isErrResp && errResp.Body.Error != nil && errResp.Body.Error.Format != "" {
		return errResp.Body.Error.Format
	}
	return resp.GetResponse().Message
}

func sendTyped[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (T, error) {
	var zero T
	resp, err := c.SendRequest(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %T", resp)
	}
	return typed, nil
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Initialize sends the initialize request and returns the adapter capabilities.
func (c *Client) Initialize(ctx context.Context, adapterID string) (*dap.InitializeResponse, error) {
	return sendTyped[*dap.InitializeResponse](ctx, c, &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:             clientID,
			ClientName:           clientName,
			AdapterID:            adapterID,
			Locale:               "en-US",
			LinesStartAt1:        true,
			ColumnsStartAt1:      true,
			PathFormat:           "path",
			SupportsVariableType: true,
		},
	})
}

// SetBreakpoints replaces the breakpoints of the given file with breakpoints at the given lines.
func (c *Client) SetBreakpoints(ctx context.Context, file string, name string, lines []int) (*dap.SetBreakpointsResponse, error) {
	breakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		breakpoints[i] = dap.SourceBreakpoint{Line: line}
	}

	return sendTyped[*dap.SetBreakpointsResponse](ctx, c, &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: file, Name: name},
			Breakpoints: breakpoints,
		},
	})
}

// Launch asks the adapter to start the debuggee. The arguments are adapter-specific.
func (c *Client) Launch(ctx context.Context, args map[string]any) error {
	argsJSON, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal launch arguments: %w", marshalErr)
	}

	_, err := c.SendRequest(ctx, &dap.LaunchRequest{
		Request:   newRequest("launch"),
		Arguments: argsJSON,
	})
	return err
}

func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.SendRequest(ctx, &dap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	})
	return err
}

func (c *Client) StackTrace(ctx context.Context, threadID int, levels int) (*dap.StackTraceResponse, error) {
	return sendTyped[*dap.StackTraceResponse](ctx, c, &dap.StackTraceRequest{
		Request: newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: 0,
			Levels:     levels,
		},
	})
}

// Evaluate evaluates an expression in the context of a stack frame.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponse, error) {
	return sendTyped[*dap.EvaluateResponse](ctx, c, &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	})
}

func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	_, err := c.SendRequest(ctx, &dap.DisconnectRequest{
		Request: newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	})
	return err
}

// WaitForEvent returns the first queued event with the given name, waiting up to timeout for one to arrive.
// Events with other names stay queued for other waiters.
func (c *Client) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (dap.EventMessage, error) {
	return c.WaitForAnyEvent(ctx, timeout, name)
}

// WaitForAnyEvent returns the first queued event whose name is one of the given names.
func (c *Client) WaitForAnyEvent(ctx context.Context, timeout time.Duration, names ...string) (dap.EventMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	readerStopped := false
	for {
		c.eventsMu.Lock()
		changed := c.eventsChanged
		c.eventsMu.Unlock()

		if ev, found := c.takeEvent(names); found {
			return ev, nil
		}

		if readerStopped {
			return nil, fmt.Errorf("%w while waiting for %s event", ErrServiceStopped, strings.Join(names, "/"))
		}

		select {
		case <-changed:
		case <-c.readerDone:
			// One more pass over the queue: the event may have arrived just before the connection closed.
			readerStopped = true
		case <-timer.C:
			return nil, fmt.Errorf("%w %s", ErrEventTimeout, strings.Join(names, "/"))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) takeEvent(names []string) (dap.EventMessage, bool) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()

	for i, ev := range c.events {
		if slices.Contains(names, ev.GetEvent().Event) {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return ev, true
		}
	}
	return nil, false
}

// Close stops the reader, closes the transport and fails every request still waiting for a response.
// Events already received are handed to their handlers before Close returns.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		closeErr = c.transport.Close()
		<-c.readerDone
		c.failPending(ErrServiceStopped)

		// The reader is the only sender.
		close(c.dispatch.In)
		<-c.dispatchDone
		c.cancel()
	})
	return closeErr
}
