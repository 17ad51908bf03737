/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/microsoft/breakeval/internal/dap"
)

var (
	ErrProjectNotFound    = errors.New("project file not found")
	ErrExecutableNotFound = errors.New("compiled program not found")

	javaClassPattern = regexp.MustCompile(`public\s+class\s+(\w+)`)
	cargoNamePattern = regexp.MustCompile(`^\s*name\s*=\s*"([^"]+)"`)

	dotnetProjectPatterns = []string{"*.csproj", "*.fsproj", "*.vbproj"}
	dotnetConfigurations  = []string{"Debug", "Release"}
	dotnetFrameworks      = []string{"net8.0", "net7.0", "net6.0"}
)

// BuildLaunchPayload returns the arguments of the DAP launch request for the given program.
func (c *AdapterConfig) BuildLaunchPayload(file string, args []string) (map[string]any, error) {
	if args == nil {
		args = []string{}
	}
	payload := map[string]any{
		"type":    c.LaunchType,
		"name":    "breakeval - " + c.Language,
		"request": "launch",
	}

	switch c.Language {
	case "python":
		payload["program"] = file
		payload["args"] = args
		payload["console"] = "internalConsole"
		payload["stopOnEntry"] = false
		if len(c.Command) > 0 {
			payload["python"] = c.Command[0]
		}

	case "csharp", "fsharp", "vbnet":
		dll, dllErr := findDotnetAssembly(file)
		if dllErr != nil {
			return nil, dllErr
		}
		payload["program"] = dll
		payload["args"] = args
		payload["cwd"] = filepath.Dir(file)
		payload["console"] = "internalConsole"
		payload["stopOnEntry"] = false

	case "javascript", "typescript":
		payload["program"] = file
		payload["args"] = args
		payload["console"] = "integratedTerminal"
		payload["stopOnEntry"] = false
		payload["runtimeExecutable"] = "node"
		if c.Transport == TransportTCP {
			runtimeArgs := []string{}
			for _, arg := range c.Command[1:] {
				if strings.HasPrefix(arg, "--inspect") {
					if c.Port != 0 {
						arg = strings.ReplaceAll(arg, dap.PortPlaceholder, strconv.Itoa(c.Port))
					}
					runtimeArgs = append(runtimeArgs, arg)
				}
			}
			payload["runtimeArgs"] = runtimeArgs
		}

	case "go":
		payload["mode"] = "debug"
		payload["program"] = filepath.Dir(file)
		payload["args"] = args
		payload["showGlobalVariables"] = true

	case "rust":
		exe, dir, exeErr := findCargoExecutable(file)
		if exeErr != nil {
			return nil, exeErr
		}
		payload["program"] = exe
		payload["args"] = args
		payload["cwd"] = dir
		payload["console"] = "internalConsole"
		payload["stopOnEntry"] = false

	case "java":
		payload["mainClass"] = javaMainClass(file)
		payload["classPaths"] = []string{filepath.Dir(file)}
		payload["args"] = args
		payload["console"] = "internalConsole"
		payload["stopOnEntry"] = false

	default:
		payload["program"] = file
		payload["args"] = args
	}

	return payload, nil
}

// findDotnetAssembly locates the compiled assembly of the project the source file belongs to.
func findDotnetAssembly(file string) (string, error) {
	dir := filepath.Dir(file)

	var projects []string
	for _, pattern := range dotnetProjectPatterns {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		projects = append(projects, matches...)
	}
	if len(projects) == 0 {
		return "", fmt.Errorf("%w: no .NET project file found in %s", ErrProjectNotFound, dir)
	}
	sort.Strings(projects)

	name := strings.TrimSuffix(filepath.Base(projects[0]), filepath.Ext(projects[0]))
	for _, configuration := range dotnetConfigurations {
		for _, framework := range dotnetFrameworks {
			candidate := filepath.Join(dir, "bin", configuration, framework, name+".dll")
			if isFile(candidate) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%w: compiled DLL not found for %s, build the project first", ErrExecutableNotFound, name)
}

// findCargoExecutable walks up from the source file to the Cargo manifest
// and returns the debug build of the package together with the package directory.
func findCargoExecutable(file string) (string, string, error) {
	dir := filepath.Dir(file)
	for {
		manifest := filepath.Join(dir, "Cargo.toml")
		if isFile(manifest) {
			name, nameErr := cargoPackageName(manifest)
			if nameErr != nil {
				return "", "", nameErr
			}
			exe := filepath.Join(dir, "target", "debug", name)
			if !isFile(exe) && isFile(exe+".exe") {
				exe += ".exe"
			}
			if !isFile(exe) {
				return "", "", fmt.Errorf("%w: Rust executable not found: %s, build with 'cargo build'", ErrExecutableNotFound, exe)
			}
			return exe, dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("%w: Cargo.toml not found for %s", ErrProjectNotFound, file)
		}
		dir = parent
	}
}

// cargoPackageName returns the name from the [package] table of a Cargo manifest.
func cargoPackageName(manifest string) (string, error) {
	f, openErr := os.Open(manifest)
	if openErr != nil {
		return "", fmt.Errorf("could not read %s: %w", manifest, openErr)
	}
	defer f.Close()

	inPackage := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inPackage = line == "[package]"
			continue
		}
		if !inPackage {
			continue
		}
		if m := cargoNamePattern.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return "", fmt.Errorf("could not read %s: %w", manifest, scanErr)
	}

	return "", fmt.Errorf("%w: package name not found in %s", ErrProjectNotFound, manifest)
}

// javaMainClass returns the first public class declared in the file, or the file name without extension.
func javaMainClass(file string) string {
	content, readErr := os.ReadFile(file)
	if readErr == nil {
		if m := javaClassPattern.FindSubmatch(content); m != nil {
			return string(m[1])
		}
	}
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}

func isFile(path string) bool {
	info, statErr := os.Stat(path)
	return statErr == nil && !info.IsDir()
}
