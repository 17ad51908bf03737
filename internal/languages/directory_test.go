/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/internal/dap"
	"github.com/microsoft/breakeval/pkg/testutil"
)

func TestBuiltinLanguages(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	langs := d.Languages()
	for _, expected := range []string{"c", "cpp", "csharp", "fsharp", "go", "java", "javascript", "lua", "python", "rust", "typescript", "vbnet"} {
		assert.Contains(t, langs, expected)
	}
	assert.IsNonDecreasing(t, langs)

	lua, resolveErr := d.Resolve("Lua")
	require.NoError(t, resolveErr)
	assert.True(t, lua.InProcess())
	assert.True(t, lua.IsToolAvailable())
	assert.Contains(t, d.Available(), Lua)

	rust, resolveErr := d.Resolve("rust")
	require.NoError(t, resolveErr)
	assert.False(t, rust.InProcess())
	assert.Equal(t, 45*time.Second, rust.Descriptor().StoppedTimeout)
}

func TestResolveUnknownLanguage(t *testing.T) {
	t.Parallel()

	_, resolveErr := NewDirectory().Resolve("cobol")
	require.ErrorIs(t, resolveErr, ErrUnsupportedLanguage)
	assert.Contains(t, resolveErr.Error(), "cobol")
	assert.False(t, NewDirectory().IsToolAvailable("cobol"))
}

func TestDescriptorForTCPAdapter(t *testing.T) {
	t.Parallel()

	h, resolveErr := NewDirectory().Resolve("python")
	require.NoError(t, resolveErr)

	desc := h.Descriptor()
	assert.Equal(t, "python", desc.Language)
	assert.Equal(t, "python", desc.AdapterID)
	assert.Equal(t, dap.DebugAdapterModeTCP, desc.Config.Mode)
	assert.Equal(t, 5678, desc.Config.Port)
	assert.Contains(t, desc.Config.Args, dap.PortPlaceholder)
	assert.Equal(t, DefaultTimeoutSeconds*time.Second, desc.StoppedTimeout)
	require.NotNil(t, desc.LaunchPayload)

	payload, payloadErr := desc.LaunchPayload("/tmp/app.py", nil)
	require.NoError(t, payloadErr)
	assert.Equal(t, "python", payload["type"])
}

func TestHandleConfigIsACopy(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	h, _ := d.Resolve("go")
	cfg := h.Config()
	cfg.Command[0] = "changed"

	again, _ := d.Resolve("go")
	assert.Equal(t, "dlv", again.Config().Command[0])
}

func TestRegister(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	require.NoError(t, d.Register(AdapterConfig{
		Language:       " Ruby ",
		Command:        []string{"rdbg", "--open", "--port", dap.PortPlaceholder},
		Transport:      TransportTCP,
		LaunchType:     "rdbg",
		FileExtensions: []string{"rbx"},
	}))

	assert.Contains(t, d.Languages(), "ruby")
	lang, detectErr := d.Detect("/somewhere/script.rbx")
	require.NoError(t, detectErr)
	assert.Equal(t, "ruby", lang)
}

func TestRegisterRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		cfg  AdapterConfig
	}{
		{"no language", AdapterConfig{Command: []string{"x"}, Transport: TransportStdio}},
		{"no command", AdapterConfig{Language: "x", Transport: TransportStdio}},
		{"bad transport", AdapterConfig{Language: "x", Command: []string{"x"}, Transport: "pipe"}},
		{"bad port", AdapterConfig{Language: "x", Command: []string{"x"}, Transport: TransportTCP, Port: 70000}},
		{"bad timeout", AdapterConfig{Language: "x", Command: []string{"x"}, Transport: TransportStdio, TimeoutSeconds: 301}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, NewDirectory().Register(tc.cfg), ErrInvalidConfig)
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "adapters.yaml", `
adapters:
  - language: python
    command: [python3, -m, debugpy.adapter, --port, "{{port}}"]
    transport: tcp
    port: 6000
    launchType: python
    fileExtensions: [.py]
    timeoutSeconds: 60
    env:
      PYTHONUNBUFFERED: "1"
`)

	d := NewDirectory()
	require.NoError(t, d.LoadOverrides(path))

	h, resolveErr := d.Resolve("python")
	require.NoError(t, resolveErr)

	expected := AdapterConfig{
		Language:       "python",
		Command:        []string{"python3", "-m", "debugpy.adapter", "--port", "{{port}}"},
		Transport:      TransportTCP,
		Port:           6000,
		LaunchType:     "python",
		FileExtensions: []string{".py"},
		TimeoutSeconds: 60,
		Env:            map[string]string{"PYTHONUNBUFFERED": "1"},
	}
	if diff := cmp.Diff(expected, h.Config()); diff != "" {
		t.Errorf("unexpected configuration (-want +got):\n%s", diff)
	}
	assert.Equal(t, time.Minute, h.Descriptor().StoppedTimeout)
}

func TestLoadOverridesErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d := NewDirectory()

	require.Error(t, d.LoadOverrides(filepath.Join(dir, "missing.yaml")))

	malformed := testutil.WriteFile(t, dir, "malformed.yaml", "adapters: [")
	require.ErrorIs(t, d.LoadOverrides(malformed), ErrInvalidConfig)

	invalid := testutil.WriteFile(t, dir, "invalid.yaml", "adapters:\n  - language: x\n    transport: stdio\n")
	require.ErrorIs(t, d.LoadOverrides(invalid), ErrInvalidConfig)
}
