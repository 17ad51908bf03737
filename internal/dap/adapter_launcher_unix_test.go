//go:build !windows

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/internal/dap"
	"github.com/microsoft/breakeval/pkg/process"
	"github.com/microsoft/breakeval/pkg/testutil"
)

func TestLaunchTCPAdapterConnectionTimeout(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 20*time.Second)
	log := testutil.NewLogForTesting(t.Name())

	// The "adapter" never listens on the port.
	_, err := dap.LaunchDebugAdapter(ctx, process.NewOSExecutor(log), &dap.DebugAdapterConfig{
		Args:              []string{"sh", "-c", "sleep 10 # {{port}}"},
		Mode:              dap.DebugAdapterModeTCP,
		ConnectionTimeout: 500 * time.Millisecond,
	}, log)
	require.ErrorIs(t, err, dap.ErrAdapterConnectionTimeout)
}

func TestLaunchTCPAdapterExitsEarly(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 20*time.Second)
	log := testutil.NewLogForTesting(t.Name())

	_, err := dap.LaunchDebugAdapter(ctx, process.NewOSExecutor(log), &dap.DebugAdapterConfig{
		Args:              []string{"sh", "-c", "exit 3"},
		Mode:              dap.DebugAdapterModeTCP,
		ConnectionTimeout: 5 * time.Second,
	}, log)
	require.ErrorIs(t, err, dap.ErrAdapterExited)
}

func TestLaunchAdapterEmptyCommand(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.GetTestContext(t, 5*time.Second)
	log := testutil.NewLogForTesting(t.Name())

	_, err := dap.LaunchDebugAdapter(ctx, process.NewOSExecutor(log), &dap.DebugAdapterConfig{}, log)
	require.ErrorIs(t, err, dap.ErrInvalidAdapterConfig)
}
