/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

var ErrInvalidArguments = errors.New("invalid arguments")

// ExitCodeError asks the program to exit with a specific code.
// Anything the user needs to know has already been printed when it is returned.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func WithNewline(b []byte) []byte {
	if IsWindows() {
		b = append(b, '\r')
	}
	b = append(b, '\n')
	return b
}

// readCommandFile returns the contents of a file holding the command to evaluate.
func readCommandFile(path string) (string, error) {
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return "", fmt.Errorf("%w: command file %s not found", ErrInvalidArguments, path)
		}
		return "", fmt.Errorf("could not read command file %s: %w", path, readErr)
	}

	command := dedent(strings.ReplaceAll(string(content), "\r\n", "\n"))
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("%w: command file %s is empty", ErrInvalidArguments, path)
	}
	return strings.TrimRight(command, "\n"), nil
}

// dedent removes the indentation shared by all non-blank lines.
func dedent(text string) string {
	lines := strings.Split(text, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return text
	}

	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}
