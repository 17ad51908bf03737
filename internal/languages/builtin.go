/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"github.com/microsoft/breakeval/internal/dap"
)

// Lua is debugged in-process by the embedded interpreter.
const Lua = "lua"

func builtinConfigs() []AdapterConfig {
	return []AdapterConfig{
		{
			Language:       Lua,
			InProcess:      true,
			FileExtensions: []string{".lua"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "python",
			Command:        []string{"python", "-m", "debugpy.adapter", "--host", "127.0.0.1", "--port", dap.PortPlaceholder},
			Transport:      TransportTCP,
			Port:           5678,
			LaunchType:     "python",
			FileExtensions: []string{".py", ".pyw", ".pyi"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "csharp",
			Command:        []string{"netcoredbg", "--interpreter=vscode"},
			Transport:      TransportStdio,
			LaunchType:     "coreclr",
			FileExtensions: []string{".cs", ".csx"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "fsharp",
			Command:        []string{"netcoredbg", "--interpreter=vscode"},
			Transport:      TransportStdio,
			LaunchType:     "coreclr",
			FileExtensions: []string{".fs", ".fsx", ".fsi"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "vbnet",
			Command:        []string{"netcoredbg", "--interpreter=vscode"},
			Transport:      TransportStdio,
			LaunchType:     "coreclr",
			FileExtensions: []string{".vb"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "javascript",
			Command:        []string{"node", "--inspect-brk=" + dap.PortPlaceholder},
			Transport:      TransportTCP,
			Port:           9229,
			LaunchType:     "node",
			FileExtensions: []string{".js", ".mjs", ".cjs", ".jsx"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "typescript",
			Command:        []string{"node", "--inspect-brk=" + dap.PortPlaceholder, "--require", "ts-node/register"},
			Transport:      TransportTCP,
			Port:           9229,
			LaunchType:     "node",
			FileExtensions: []string{".ts", ".tsx"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "go",
			Command:        []string{"dlv", "dap"},
			Transport:      TransportStdio,
			LaunchType:     "go",
			FileExtensions: []string{".go"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "rust",
			Command:        []string{"rust-gdb", "--interpreter=dap"},
			Transport:      TransportStdio,
			LaunchType:     "rust",
			FileExtensions: []string{".rs"},
			TimeoutSeconds: 45,
		},
		{
			Language:       "java",
			Command:        []string{"java", "-agentlib:jdwp=transport=dt_socket,server=y,suspend=y,address=" + dap.PortPlaceholder},
			Transport:      TransportTCP,
			Port:           5005,
			LaunchType:     "java",
			FileExtensions: []string{".java"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "cpp",
			Command:        []string{"gdb", "--interpreter=dap"},
			Transport:      TransportStdio,
			LaunchType:     "cppdbg",
			FileExtensions: []string{".cpp", ".cxx", ".cc", ".c++", ".hpp"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		{
			Language:       "c",
			Command:        []string{"gdb", "--interpreter=dap"},
			Transport:      TransportStdio,
			LaunchType:     "cppdbg",
			FileExtensions: []string{".c", ".h"},
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
	}
}
