/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/microsoft/breakeval/pkg/process"
)

const DefaultProbeTimeout = 5 * time.Second

// ProbeTool runs the debugger executable with --version and returns the first line it prints.
func ProbeTool(ctx context.Context, executor process.Executor, h Handle) (string, error) {
	cfg := h.Config()
	if cfg.InProcess {
		return "embedded", nil
	}
	if !cfg.IsToolAvailable() {
		return "", fmt.Errorf("%s: '%s' was not found", cfg.Language, cfg.Command[0])
	}

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.Command(cfg.Command[0], "--version")
	cmd.Stdout = &out
	cmd.Stderr = &out

	exitCode, runErr := process.Run(probeCtx, executor, cmd)
	if runErr != nil {
		return "", fmt.Errorf("%s: could not run '%s --version': %w", cfg.Language, cfg.Command[0], runErr)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%s: '%s --version' exited with code %d", cfg.Language, cfg.Command[0], exitCode)
	}

	firstLine, _, _ := strings.Cut(strings.TrimSpace(out.String()), "\n")
	return strings.TrimSpace(firstLine), nil
}
