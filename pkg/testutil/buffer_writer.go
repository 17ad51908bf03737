/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"bytes"
	"io"
	"sync"
)

// BufferWriter is an io.Writer that collects everything written to it.
// All methods are goroutine-safe.
type BufferWriter struct {
	buf    bytes.Buffer
	lock   *sync.Mutex
	closed bool
}

func NewBufferWriter() *BufferWriter {
	return &BufferWriter{lock: &sync.Mutex{}}
}

func (bw *BufferWriter) Write(p []byte) (int, error) {
	bw.lock.Lock()
	defer bw.lock.Unlock()
	if bw.closed {
		return 0, io.ErrClosedPipe
	}
	return bw.buf.Write(p)
}

func (bw *BufferWriter) String() string {
	bw.lock.Lock()
	defer bw.lock.Unlock()
	return bw.buf.String()
}

func (bw *BufferWriter) Close() error {
	bw.lock.Lock()
	defer bw.lock.Unlock()
	bw.closed = true
	return nil
}

var _ io.WriteCloser = (*BufferWriter)(nil)
