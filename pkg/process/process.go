/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"context"
	"os/exec"
)

// Run starts the command, waits for it to finish and returns its exit code.
// The process is stopped if the context is cancelled first.
func Run(ctx context.Context, executor Executor, cmd *exec.Cmd) (int32, error) {
	exitCh := make(chan ProcessExitInfo, 1)
	_, startWaitForProcessExit, err := executor.StartProcess(ctx, cmd, NewChannelProcessExitHandler(exitCh))
	if err != nil {
		return UnknownExitCode, err
	}
	startWaitForProcessExit()

	exitInfo := <-exitCh
	return exitInfo.ExitCode, exitInfo.Err
}
