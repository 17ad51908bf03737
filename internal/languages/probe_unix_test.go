//go:build !windows

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/pkg/process"
	"github.com/microsoft/breakeval/pkg/testutil"
)

func TestProbeTool(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	dir := t.TempDir()
	tool := testutil.WriteFile(t, dir, "fake-dbg", "#!/bin/sh\necho \"fake-dbg 1.2.3\"\necho \"second line\"\n")
	require.NoError(t, os.Chmod(tool, 0o755))
	broken := testutil.WriteFile(t, dir, "broken-dbg", "#!/bin/sh\nexit 3\n")
	require.NoError(t, os.Chmod(broken, 0o755))

	d := NewDirectory()
	require.NoError(t, d.Register(AdapterConfig{Language: "fake", Command: []string{tool}, Transport: TransportStdio}))
	require.NoError(t, d.Register(AdapterConfig{Language: "broken", Command: []string{broken}, Transport: TransportStdio}))
	require.NoError(t, d.Register(AdapterConfig{Language: "missing", Command: []string{"breakeval-no-such-debugger"}, Transport: TransportStdio}))

	executor := process.NewOSExecutor(testutil.NewLogForTesting(t.Name()))

	fake, _ := d.Resolve("fake")
	version, probeErr := ProbeTool(ctx, executor, fake)
	require.NoError(t, probeErr)
	assert.Equal(t, "fake-dbg 1.2.3", version)

	brokenHandle, _ := d.Resolve("broken")
	_, probeErr = ProbeTool(ctx, executor, brokenHandle)
	require.Error(t, probeErr)
	assert.Contains(t, probeErr.Error(), "code 3")

	missing, _ := d.Resolve("missing")
	assert.False(t, missing.IsToolAvailable())
	_, probeErr = ProbeTool(ctx, executor, missing)
	require.Error(t, probeErr)

	lua, _ := d.Resolve(Lua)
	version, probeErr = ProbeTool(ctx, executor, lua)
	require.NoError(t, probeErr)
	assert.Equal(t, "embedded", version)
}
