/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/microsoft/breakeval/internal/languages"
	"github.com/microsoft/breakeval/pkg/logger"
)

const (
	// Path to a YAML file with debug adapter configurations that extend or replace the built-in ones.
	BREAKEVAL_ADAPTERS_FILE = "BREAKEVAL_ADAPTERS_FILE"

	adaptersFlagName = "adapters"
)

type globalOptions struct {
	adaptersFile string
}

// directory returns the language directory, with adapter overrides applied if any were requested.
func (g *globalOptions) directory() (*languages.Directory, error) {
	dir := languages.NewDirectory()

	path := g.adaptersFile
	if path == "" {
		path = os.Getenv(BREAKEVAL_ADAPTERS_FILE)
	}
	if path == "" {
		return dir, nil
	}

	if loadErr := dir.LoadOverrides(path); loadErr != nil {
		return nil, fmt.Errorf("could not load adapter configuration from '%s': %w", path, loadErr)
	}
	return dir, nil
}

func NewRootCommand(log *logger.Logger) (*cobra.Command, error) {
	global := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "breakeval",
		Short: "Evaluates a command at a breakpoint, without an interactive debugging session",
		Long: `breakeval runs a program until it reaches a given line, evaluates a command there,
and reports the result.

Lua programs run in-process. Programs in other languages are debugged through
their Debug Adapter Protocol adapter, which must be installed separately.`,
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: LogVersion(log.Logger, "Starting breakeval"),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	if cmd, err := NewVersionCommand(log.Logger); err != nil {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	} else {
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(NewDebugCommand(log.Logger, global))
	rootCmd.AddCommand(NewLanguagesCommand(log.Logger, global))

	rootCmd.PersistentFlags().StringVar(&global.adaptersFile, adaptersFlagName, "", "Path to a YAML file with additional debug adapter configurations. Can also be set with "+BREAKEVAL_ADAPTERS_FILE+".")
	log.AddLevelFlag(rootCmd.PersistentFlags())

	return rootCmd, nil
}
