/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/pkg/testutil"
)

func payloadFor(t *testing.T, language string, file string, args []string) (map[string]any, error) {
	t.Helper()
	h, resolveErr := NewDirectory().Resolve(language)
	require.NoError(t, resolveErr)
	cfg := h.Config()
	return cfg.BuildLaunchPayload(file, args)
}

func TestPythonPayload(t *testing.T) {
	t.Parallel()

	payload, payloadErr := payloadFor(t, "python", "/work/app.py", []string{"--fast"})
	require.NoError(t, payloadErr)

	expected := map[string]any{
		"type":        "python",
		"name":        "breakeval - python",
		"request":     "launch",
		"program":     "/work/app.py",
		"args":        []string{"--fast"},
		"console":     "internalConsole",
		"stopOnEntry": false,
		"python":      "python",
	}
	if diff := cmp.Diff(expected, payload); diff != "" {
		t.Errorf("unexpected launch payload (-want +got):\n%s", diff)
	}
}

func TestJavaScriptPayload(t *testing.T) {
	t.Parallel()

	payload, payloadErr := payloadFor(t, "javascript", "/work/index.js", nil)
	require.NoError(t, payloadErr)

	assert.Equal(t, "node", payload["type"])
	assert.Equal(t, "node", payload["runtimeExecutable"])
	assert.Equal(t, []string{"--inspect-brk=9229"}, payload["runtimeArgs"])
	assert.Equal(t, []string{}, payload["args"])
	assert.Equal(t, "integratedTerminal", payload["console"])
}

func TestGoPayload(t *testing.T) {
	t.Parallel()

	payload, payloadErr := payloadFor(t, "go", "/work/cmd/tool/main.go", nil)
	require.NoError(t, payloadErr)

	assert.Equal(t, "debug", payload["mode"])
	assert.Equal(t, "/work/cmd/tool", payload["program"])
	assert.Equal(t, true, payload["showGlobalVariables"])
}

func TestJavaPayload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	withClass := testutil.WriteFile(t, dir, "App.java", "package demo;\n\npublic   class Greeter {\n}\n")
	withoutClass := testutil.WriteFile(t, dir, "Helper.java", "class Hidden {}\n")

	payload, payloadErr := payloadFor(t, "java", withClass, nil)
	require.NoError(t, payloadErr)
	assert.Equal(t, "Greeter", payload["mainClass"])
	assert.Equal(t, []string{dir}, payload["classPaths"])

	payload, payloadErr = payloadFor(t, "java", withoutClass, nil)
	require.NoError(t, payloadErr)
	assert.Equal(t, "Helper", payload["mainClass"])
}

func TestDotnetPayload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := testutil.WriteFile(t, dir, "Program.cs", "class Program {}\n")

	_, payloadErr := payloadFor(t, "csharp", source, nil)
	require.ErrorIs(t, payloadErr, ErrProjectNotFound)

	testutil.WriteFile(t, dir, "Demo.csproj", "<Project />\n")
	_, payloadErr = payloadFor(t, "csharp", source, nil)
	require.ErrorIs(t, payloadErr, ErrExecutableNotFound)
	assert.Contains(t, payloadErr.Error(), "Demo")

	dll := testutil.WriteFile(t, dir, filepath.Join("bin", "Release", "net7.0", "Demo.dll"), "")
	payload, payloadErr := payloadFor(t, "csharp", source, nil)
	require.NoError(t, payloadErr)
	assert.Equal(t, dll, payload["program"])
	assert.Equal(t, dir, payload["cwd"])
	assert.Equal(t, "coreclr", payload["type"])
}

func TestRustPayload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := testutil.WriteFile(t, dir, filepath.Join("src", "main.rs"), "fn main() {}\n")

	_, payloadErr := payloadFor(t, "rust", source, nil)
	require.ErrorIs(t, payloadErr, ErrProjectNotFound)

	testutil.WriteFile(t, dir, "Cargo.toml", "[package]\nname = \"calc\"\nversion = \"0.1.0\"\n\n[dependencies]\nname = \"other\"\n")
	_, payloadErr = payloadFor(t, "rust", source, nil)
	require.ErrorIs(t, payloadErr, ErrExecutableNotFound)
	assert.Contains(t, payloadErr.Error(), "cargo build")

	exe := testutil.WriteFile(t, dir, filepath.Join("target", "debug", "calc"), "")
	payload, payloadErr := payloadFor(t, "rust", source, []string{"1"})
	require.NoError(t, payloadErr)
	assert.Equal(t, exe, payload["program"])
	assert.Equal(t, dir, payload["cwd"])
	assert.Equal(t, []string{"1"}, payload["args"])
}

func TestGenericPayload(t *testing.T) {
	t.Parallel()

	cfg := AdapterConfig{Language: "ruby", LaunchType: "rdbg", Command: []string{"rdbg"}, Transport: TransportStdio}
	payload, payloadErr := cfg.BuildLaunchPayload("/work/app.rb", []string{"a"})
	require.NoError(t, payloadErr)

	expected := map[string]any{
		"type":    "rdbg",
		"name":    "breakeval - ruby",
		"request": "launch",
		"program": "/work/app.rb",
		"args":    []string{"a"},
	}
	if diff := cmp.Diff(expected, payload); diff != "" {
		t.Errorf("unexpected launch payload (-want +got):\n%s", diff)
	}
}
