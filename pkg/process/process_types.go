/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"context"
	"errors"
	"os/exec"
)

const (
	// A valid exit code of a process is a non-negative number. UnknownExitCode means the exit code has not been obtained.
	UnknownExitCode int32 = -1

	// UnknownPID is used when the process was not started (or failed to start).
	UnknownPID int32 = -1
)

var ErrProcessNotFound = errors.New("process not found")

type Executor interface {
	// Starts the process described by given command instance.
	// When the passed context is cancelled, the process is automatically stopped.
	// Returns the process PID and a function that enables process exit notifications delivered to the exit handler.
	// Waiting is deferred until that function is called so that the caller can finish reading
	// from the process pipes first.
	StartProcess(ctx context.Context, cmd *exec.Cmd, exitHandler ProcessExitHandler) (pid int32, startWaitForProcessExit func(), err error)

	// Stops the process with a given PID: it is asked to terminate first and killed if it does not exit in time.
	StopProcess(pid int32) error
}

type ProcessExitHandler interface {
	// Indicates that process with a given PID has finished execution.
	// If err is nil, the process exit code was properly captured and the exitCode value is valid.
	OnProcessExited(pid int32, exitCode int32, err error)
}

type ProcessExitHandlerFunc func(int32, int32, error)

func (f ProcessExitHandlerFunc) OnProcessExited(pid int32, exitCode int32, err error) {
	f(pid, exitCode, err)
}
