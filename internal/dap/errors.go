// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
)

var (
	// ErrRequestTimeout is returned when a request does not receive a response within the request timeout.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrServiceStopped is delivered to every request still waiting for a response when the client is closed.
	ErrServiceStopped = errors.New("DAP client stopped")

	// ErrTransportClosed is returned when reading from or writing to a closed transport.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrUnknownMessage is returned by Transport.ReadMessage for well-framed messages that cannot be decoded.
	ErrUnknownMessage = errors.New("unknown DAP message")

	// ErrEventTimeout is returned when an awaited event does not arrive in time.
	ErrEventTimeout = errors.New("timeout waiting for event")

	// ErrInvalidAdapterConfig is returned when the debug adapter configuration is invalid.
	ErrInvalidAdapterConfig = errors.New("invalid debug adapter configuration")

	// ErrAdapterConnectionTimeout is returned when connecting to the adapter does not succeed within the timeout.
	ErrAdapterConnectionTimeout = errors.New("debug adapter connection timeout")

	// ErrAdapterExited is returned when the adapter process exits before a connection is established.
	ErrAdapterExited = errors.New("debug adapter process exited")
)

// ResponseError is returned when the adapter answers a request with success=false.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed", e.Command)
	}
	return e.Message
}

// IsTransportError returns true if the error means the adapter could not be reached,
// as opposed to the adapter answering with a failure.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrServiceStopped) ||
		errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// filterContextError filters out redundant context errors during shutdown.
// If the error is a context.Canceled or context.DeadlineExceeded and the
// context is already done, the error is logged at debug level and nil is returned.
// The same applies to errors from a process killed due to context cancellation.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.V(1).Info("Filtering redundant context error", "error", err)
			return nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Error(), "signal: killed") {
			log.V(1).Info("Filtering process killed error on context cancellation", "error", err)
			return nil
		}
	}

	return err
}
