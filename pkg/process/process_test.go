//go:build !windows

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/pkg/testutil"
)

func TestRunCompleted(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.GetTestContext(t, 10*time.Second)
	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))

	exitCode, err := Run(ctx, executor, exec.Command("sh", "-c", "sleep 0.2; exit 12"))
	require.NoError(t, err, "Program execution failed unexpectedly")
	require.Equal(t, int32(12), exitCode, "Program exit code was not captured properly")
}

// Tests that process is terminated when the context expires.
func TestRunDeadlineExceeded(t *testing.T) {
	t.Parallel()

	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, executor, exec.Command("sleep", "5"))
	elapsed := time.Since(start)

	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Less(t, elapsed, 3*time.Second, "Process was not terminated timely")
}

func TestStopProcessKillsAfterGracePeriod(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.GetTestContext(t, 20*time.Second)
	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))
	executor.StopGracePeriod = 300 * time.Millisecond

	exitCh := make(chan ProcessExitInfo, 1)
	// The process ignores SIGTERM, so only the kill stops it.
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 10")
	pid, startWait, err := executor.StartProcess(ctx, cmd, NewChannelProcessExitHandler(exitCh))
	require.NoError(t, err)
	startWait()

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, executor.StopProcess(pid))
	require.Less(t, time.Since(start), 5*time.Second)

	select {
	case ei := <-exitCh:
		require.Equal(t, pid, ei.PID)
	case <-ctx.Done():
		t.Fatal("exit notification was not delivered")
	}
}

func TestStopUnknownProcess(t *testing.T) {
	t.Parallel()

	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))
	err := executor.StopProcess(123456)
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestStartFailure(t *testing.T) {
	t.Parallel()

	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))
	pid, _, err := executor.StartProcess(context.Background(), exec.Command("/nonexistent/breakeval-tool"), nil)
	require.Error(t, err)
	require.Equal(t, UnknownPID, pid)
}
