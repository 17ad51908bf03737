/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package luahost

import (
	"errors"
	"fmt"
)

var (
	// ErrBreakpointUnwind stops the running test after the breakpoint fired inside it.
	ErrBreakpointUnwind = errors.New("breakpoint reached")

	ErrModuleNotFound = errors.New("module not found")
	ErrNoTestsFound   = errors.New("no tests found")
)

// ExitError reports that the program asked to terminate the process.
type ExitError struct {
	Code int

	// Set when the exit was requested by the breakpoint rather than the program.
	Breakpoint bool
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the exit code carried by err, if err is an exit request.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

func IsBreakpointUnwind(err error) bool {
	return errors.Is(err, ErrBreakpointUnwind)
}
