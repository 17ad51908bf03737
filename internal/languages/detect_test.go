/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/breakeval/pkg/testutil"
)

func TestDetectByExtension(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		file     string
		expected string
	}{
		{"app.py", "python"},
		{"/src/Program.CS", "csharp"},
		{"component.spec.ts", "typescript"},
		{"index.mjs", "javascript"},
		{"main.go", "go"},
		{"lib.rs", "rust"},
		{"Main.java", "java"},
		{"vector.hpp", "cpp"},
		{"util.h", "c"},
		{"game.lua", "lua"},
		{"model.R", "r"},
		{"server.exs", "elixir"},
	}

	d := NewDetector()
	for _, tc := range testCases {
		lang, detectErr := d.Detect(tc.file)
		require.NoError(t, detectErr, tc.file)
		assert.Equal(t, tc.expected, lang, tc.file)
	}
}

func TestDetectCompoundExtensionTakesPrecedence(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	d.AddExtension("test.lua", "lua-test")

	lang, detectErr := d.Detect("suite.test.lua")
	require.NoError(t, detectErr)
	assert.Equal(t, "lua-test", lang)

	lang, detectErr = d.Detect("suite.lua")
	require.NoError(t, detectErr)
	assert.Equal(t, "lua", lang)
}

func TestDetectByShebang(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		shebang  string
		expected string
	}{
		{"env lua", "#!/usr/bin/env lua", "lua"},
		{"env with version", "#!/usr/bin/env python3.11", "python"},
		{"direct path", "#!/usr/bin/python3 -u", "python"},
		{"env node", "#!/usr/bin/env node", "javascript"},
		{"bash", "#!/bin/bash", "bash"},
		{"zsh", "#!/bin/zsh", "shell"},
		{"luajit", "#!/usr/local/bin/luajit", "lua"},
	}

	dir := t.TempDir()
	d := NewDetector()
	for _, tc := range testCases {
		file := testutil.WriteFile(t, dir, tc.name, tc.shebang+"\nsomething\n")
		lang, detectErr := d.Detect(file)
		require.NoError(t, detectErr, tc.name)
		assert.Equal(t, tc.expected, lang, tc.name)
	}
}

func TestDetectByContent(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		content  string
		expected string
	}{
		{"python", "import os\n\ndef main():\n    print(os.getcwd())\n", "python"},
		{"go", "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(1)\n}\n", "go"},
		{"java", "import java.util.List;\n\npublic class Main {\n}\n", "java"},
		{"csharp", "using System;\n\nnamespace Demo {\n}\n", "csharp"},
		{"rust", "use std::io;\n\nfn main() {\n    let x = 1;\n}\n", "rust"},
		{"javascript", "const fs = require('fs');\n", "javascript"},
		{"typescript", "interface Point { x: number }\nconst p: Point = { x: 1 };\n", "typescript"},
	}

	dir := t.TempDir()
	d := NewDetector()
	for _, tc := range testCases {
		file := testutil.WriteFile(t, dir, tc.name, tc.content)
		lang, detectErr := d.Detect(file)
		require.NoError(t, detectErr, tc.name)
		assert.Equal(t, tc.expected, lang, tc.name)
	}
}

func TestDetectFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d := NewDetector()

	_, detectErr := d.Detect("/does/not/exist")
	require.ErrorIs(t, detectErr, ErrLanguageNotDetected)
	assert.Contains(t, detectErr.Error(), "/does/not/exist")

	plain := testutil.WriteFile(t, dir, "notes", "nothing to see here\n")
	assert.False(t, d.IsSupported(plain))

	hidden := testutil.WriteFile(t, dir, ".profile", "nothing\n")
	assert.False(t, d.IsSupported(hidden))
}
