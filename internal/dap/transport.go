// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Transport provides an abstraction for DAP message I/O over different connection types.
// Writes may be issued from multiple goroutines; reads are expected from a single reader goroutine.
type Transport interface {
	// ReadMessage reads the next DAP protocol message from the transport.
	// A well-framed message that cannot be decoded is reported with an error wrapping ErrUnknownMessage;
	// the transport remains usable after such error.
	ReadMessage() (dap.Message, error)

	// WriteMessage frames and writes a DAP protocol message to the transport.
	WriteMessage(msg dap.Message) error

	// Close closes the transport. Any blocked ReadMessage or WriteMessage calls return with an error.
	Close() error
}

// framedTransport implements Transport over a reader/writer pair carrying
// "Content-Length: N\r\n\r\n<json>" framed messages.
type framedTransport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	closers []io.Closer

	// writeMu serializes writes so that frames from concurrent writers do not interleave
	writeMu sync.Mutex

	closed bool
	mu     sync.Mutex
}

// NewStdioTransport creates a Transport that reads from the adapter's stdout and writes to its stdin.
func NewStdioTransport(stdout io.ReadCloser, stdin io.WriteCloser) Transport {
	return &framedTransport{
		reader:  bufio.NewReader(stdout),
		writer:  bufio.NewWriter(stdin),
		closers: []io.Closer{stdin, stdout},
	}
}

// NewTCPTransport creates a Transport backed by a network connection.
func NewTCPTransport(conn net.Conn) Transport {
	return &framedTransport{
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		closers: []io.Closer{conn},
	}
}

func (t *framedTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *framedTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	content, readErr := dap.ReadBaseMessage(t.reader)
	if readErr != nil {
		if t.isClosed() {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	msg, decodeErr := dap.DecodeProtocolMessage(content)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, decodeErr)
	}

	return msg, nil
}

func (t *framedTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}
	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *framedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, c := range t.closers {
		if closeErr := c.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && !errors.Is(closeErr, io.ErrClosedPipe) {
			errs = append(errs, closeErr)
		}
	}
	return errors.Join(errs...)
}
