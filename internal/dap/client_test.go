// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/internal/dap"
	"github.com/microsoft/breakeval/internal/dap/daptest"
	"github.com/microsoft/breakeval/pkg/testutil"
)

func newTestClient(t *testing.T, ctx context.Context, behavior daptest.Behavior, timeout time.Duration) (*dap.Client, *daptest.FakeAdapter) {
	fa, transport := daptest.NewFakeAdapter(behavior)
	client := dap.NewClient(ctx, transport, dap.ClientConfig{
		RequestTimeout: timeout,
		Logger:         testutil.NewLogForTesting(t.Name()),
	})
	t.Cleanup(func() {
		_ = client.Close()
		_ = fa.Close()
	})
	return client, fa
}

func TestClientRequestResponse(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, fa := newTestClient(t, ctx, daptest.Behavior{Verified: true}, 5*time.Second)

	initResp, err := client.Initialize(ctx, "lua")
	require.NoError(t, err)
	require.True(t, initResp.Body.SupportsConfigurationDoneRequest)

	bpResp, err := client.SetBreakpoints(ctx, "/src/app.py", "app.py", []int{7})
	require.NoError(t, err)
	require.Len(t, bpResp.Body.Breakpoints, 1)
	require.True(t, bpResp.Body.Breakpoints[0].Verified)

	file, line := fa.Breakpoint()
	require.Equal(t, "/src/app.py", file)
	require.Equal(t, 7, line)
	require.Equal(t, []string{"initialize", "setBreakpoints"}, fa.Commands())
}

func TestClientFailureResponse(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, _ := newTestClient(t, ctx, daptest.Behavior{
		FailCommands: map[string]string{"launch": "program does not exist"},
	}, 5*time.Second)

	err := client.Launch(ctx, map[string]any{"program": "/nope"})
	require.Error(t, err)

	var respErr *dap.ResponseError
	require.True(t, errors.As(err, &respErr))
	require.Equal(t, "launch", respErr.Command)
	require.Equal(t, "program does not exist", respErr.Message)
	require.False(t, dap.IsTransportError(err))
}

func TestClientRequestTimeout(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, _ := newTestClient(t, ctx, daptest.Behavior{
		IgnoreCommands: map[string]bool{"initialize": true},
	}, 200*time.Millisecond)

	start := time.Now()
	_, err := client.Initialize(ctx, "lua")
	require.ErrorIs(t, err, dap.ErrRequestTimeout)
	require.True(t, dap.IsTransportError(err))
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestClientEventsStayQueuedForOtherWaiters(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, _ := newTestClient(t, ctx, daptest.Behavior{StopReason: "breakpoint", ThreadID: 3}, 5*time.Second)

	_, err := client.Initialize(ctx, "lua")
	require.NoError(t, err)
	require.NoError(t, client.ConfigurationDone(ctx))

	// The thread event arrives before the stopped event and must still be available afterwards.
	stopped, err := client.WaitForEvent(ctx, "stopped", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, stopped.(*godap.StoppedEvent).Body.ThreadId)

	thread, err := client.WaitForEvent(ctx, "thread", time.Second)
	require.NoError(t, err)
	require.Equal(t, "started", thread.(*godap.ThreadEvent).Body.Reason)

	initialized, err := client.WaitForEvent(ctx, "initialized", time.Second)
	require.NoError(t, err)
	require.Equal(t, "initialized", initialized.GetEvent().Event)

	_, err = client.WaitForEvent(ctx, "stopped", 100*time.Millisecond)
	require.ErrorIs(t, err, dap.ErrEventTimeout)
}

func TestClientEventHandlers(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, _ := newTestClient(t, ctx, daptest.Behavior{Output: "hello from debuggee\n"}, 5*time.Second)

	var mu sync.Mutex
	var outputs []string
	received := make(chan struct{}, 1)
	client.OnEvent("output", func(ev godap.EventMessage) {
		mu.Lock()
		outputs = append(outputs, ev.(*godap.OutputEvent).Body.Output)
		mu.Unlock()
		received <- struct{}{}
	})
	client.OnEvent("output", func(godap.EventMessage) {
		panic("handler failures must not stop event delivery")
	})

	require.NoError(t, client.Launch(ctx, map[string]any{"program": "x"}))

	select {
	case <-received:
	case <-ctx.Done():
		t.Fatal("output event was not delivered to the handler")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello from debuggee\n"}, outputs)
}

func TestClientCloseDeliversQueuedEvents(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, _ := newTestClient(t, ctx, daptest.Behavior{Output: "last words\n"}, 5*time.Second)

	// Holding the first event in its handler keeps the output event queued behind it.
	gate := make(chan struct{})
	client.OnEvent("initialized", func(godap.EventMessage) { <-gate })

	var mu sync.Mutex
	var outputs []string
	client.OnEvent("output", func(ev godap.EventMessage) {
		mu.Lock()
		outputs = append(outputs, ev.(*godap.OutputEvent).Body.Output)
		mu.Unlock()
	})

	_, err := client.Initialize(ctx, "lua")
	require.NoError(t, err)
	require.NoError(t, client.Launch(ctx, map[string]any{"program": "x"}))
	_, err = client.WaitForEvent(ctx, "output", 5*time.Second)
	require.NoError(t, err)

	time.AfterFunc(100*time.Millisecond, func() { close(gate) })
	require.NoError(t, client.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"last words\n"}, outputs)
}

func TestClientSkipsUndecodableMessages(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, _ := newTestClient(t, ctx, daptest.Behavior{SendUndecodable: true}, 5*time.Second)

	_, err := client.Initialize(ctx, "lua")
	require.NoError(t, err)
}

func TestClientCloseFailsPendingRequests(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 10*time.Second)

	client, _ := newTestClient(t, ctx, daptest.Behavior{
		IgnoreCommands: map[string]bool{"evaluate": true},
	}, 30*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Evaluate(ctx, "x", 1, "repl")
		errCh <- err
	}()

	// Let the request reach the adapter before closing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, dap.ErrServiceStopped)
	case <-ctx.Done():
		t.Fatal("pending request was not resolved when the client was closed")
	}

	_, err := client.Initialize(ctx, "lua")
	require.ErrorIs(t, err, dap.ErrServiceStopped)
}
