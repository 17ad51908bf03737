/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/breakeval/internal/languages"
	"github.com/microsoft/breakeval/pkg/process"
)

type languagesOptions struct {
	probe bool
	json  bool
}

type languageInfo struct {
	Language   string   `json:"language"`
	Transport  string   `json:"transport"`
	Debugger   string   `json:"debugger"`
	Extensions []string `json:"extensions"`
	Available  bool     `json:"available"`
	Version    string   `json:"version,omitempty"`
}

func NewLanguagesCommand(log logr.Logger, global *globalOptions) *cobra.Command {
	opts := &languagesOptions{}

	languagesCmd := &cobra.Command{
		Use:   "languages",
		Short: "Lists supported languages and whether their debuggers are installed",
		Args:  cobra.NoArgs,
		RunE:  listLanguages(log, global, opts),
	}

	languagesCmd.Flags().BoolVar(&opts.probe, "probe", false, "Run each installed debugger to find out its version.")
	languagesCmd.Flags().BoolVar(&opts.json, "json", false, "Print the list as JSON.")

	return languagesCmd
}

func listLanguages(log logr.Logger, global *globalOptions, opts *languagesOptions) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		log = log.WithName("languages")

		dir, dirErr := global.directory()
		if dirErr != nil {
			return dirErr
		}

		executor := process.NewOSExecutor(log)
		var infos []languageInfo
		for _, lang := range dir.Languages() {
			h, resolveErr := dir.Resolve(lang)
			if resolveErr != nil {
				return resolveErr
			}
			infos = append(infos, describeLanguage(cmd, h, executor, opts.probe, log))
		}

		if opts.json {
			b, marshalErr := json.Marshal(infos)
			if marshalErr != nil {
				return marshalErr
			}
			_, writeErr := cmd.OutOrStdout().Write(WithNewline(b))
			return writeErr
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LANGUAGE\tTRANSPORT\tDEBUGGER\tEXTENSIONS\tAVAILABLE\tVERSION")
		for _, info := range infos {
			available := "no"
			if info.Available {
				available = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", info.Language, info.Transport, info.Debugger, strings.Join(info.Extensions, " "), available, info.Version)
		}
		return tw.Flush()
	}
}

func describeLanguage(cmd *cobra.Command, h languages.Handle, executor process.Executor, probe bool, log logr.Logger) languageInfo {
	cfg := h.Config()
	info := languageInfo{
		Language:   cfg.Language,
		Transport:  string(cfg.Transport),
		Extensions: cfg.FileExtensions,
		Available:  h.IsToolAvailable(),
	}
	if info.Extensions == nil {
		info.Extensions = []string{}
	}

	if h.InProcess() {
		info.Transport = "embedded"
		info.Debugger = "-"
	} else if len(cfg.Command) > 0 {
		info.Debugger = cfg.Command[0]
	}

	if probe && info.Available {
		version, probeErr := languages.ProbeTool(cmd.Context(), executor, h)
		if probeErr != nil {
			log.V(1).Info("Could not determine debugger version", "language", cfg.Language, "error", probeErr.Error())
		} else {
			info.Version = version
		}
	}
	return info
}
