/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package trace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrTargetNotFound = errors.New("breakpoint file not found")
	ErrInvalidLine    = errors.New("breakpoint line must be a positive number")
)

// BreakpointTarget identifies the single source location the tracer is armed for.
type BreakpointTarget struct {
	// Canonical absolute path (symlinks resolved).
	Path string

	// 1-based line number.
	Line int
}

func NewBreakpointTarget(path string, line int) (BreakpointTarget, error) {
	if line < 1 {
		return BreakpointTarget{}, fmt.Errorf("%w: %d", ErrInvalidLine, line)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return BreakpointTarget{}, fmt.Errorf("%w: %s", ErrTargetNotFound, path)
		}
		return BreakpointTarget{}, fmt.Errorf("could not access breakpoint file '%s': %w", path, err)
	}
	if info.IsDir() {
		return BreakpointTarget{}, fmt.Errorf("%w: '%s' is a directory", ErrTargetNotFound, path)
	}

	return BreakpointTarget{Path: CanonicalPath(path), Line: line}, nil
}

func (t BreakpointTarget) String() string {
	return fmt.Sprintf("%s:%d", t.Path, t.Line)
}

// CanonicalPath returns the absolute, symlink-resolved form of the path.
// If the path cannot be resolved (for example, it does not exist), the cleaned absolute path is returned.
func CanonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}
