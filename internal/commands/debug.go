/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/breakeval/internal/debugger"
	"github.com/microsoft/breakeval/internal/perftrace"
	"github.com/microsoft/breakeval/pkg/commonapi"
	"github.com/microsoft/breakeval/pkg/resiliency"
)

const profileFlushTimeout = 2 * time.Second

type debugOptions struct {
	mode        string
	module      bool
	language    string
	quiet       bool
	commandFile string
	json        bool
}

// Replaced in tests.
var exitProcess = os.Exit

func NewDebugCommand(log logr.Logger, global *globalOptions) *cobra.Command {
	opts := &debugOptions{}

	debugCmd := &cobra.Command{
		Use:   "debug [flags] <file> <line> [command] [-- program-args...]",
		Short: "Runs a program until it reaches a line, then evaluates a command there",
		Long: `Runs a program until it reaches the given line, then evaluates a command there.

For Lua programs the command is a chunk of Lua code. It runs in the scope of the
breakpoint line and can read and change local variables. For other languages the command
is an expression evaluated by the language's debugger in the top stack frame.

Arguments after "--" are passed to the program (or to the test runner in test mode).
With --module, <file> is the dotted name of a Lua module found on LUA_PATH.`,
		Example: `  breakeval debug app.lua 12 "print(total)"
  breakeval debug --quiet app.lua 12 "total" -- input.txt
  breakeval debug --mode test spec_test.lua 30 "print(actual)" -- --run parse
  breakeval debug --module tools.calc 8 "print(x)"
  breakeval debug -f inspect.lua app.lua 12`,
		Args: cobra.MinimumNArgs(2),
		RunE: runDebug(log, global, opts),
	}

	flags := debugCmd.Flags()
	flags.StringVar(&opts.mode, "mode", string(debugger.ModeScript), "How to run the program: 'script', 'module' or 'test'.")
	flags.BoolVarP(&opts.module, "module", "m", false, "Treat <file> as a dotted module name. Same as --mode module.")
	flags.StringVarP(&opts.language, "language", "l", debugger.LanguageAuto, "Language of the program. Detected from the file by default.")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Print only the program output and the command output.")
	flags.StringVarP(&opts.commandFile, "command-file", "f", "", "Read the command from a file.")
	flags.BoolVar(&opts.json, "json", false, "Print the result as JSON.")

	return debugCmd
}

func runDebug(log logr.Logger, global *globalOptions, opts *debugOptions) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log = log.WithName("debug")
		ctx := cmd.Context()

		stopProfiling, profilingErr := perftrace.CaptureProfileIfRequested(ctx, perftrace.ProfileTypeRun, log)
		if profilingErr != nil {
			log.Error(profilingErr, "Could not start profiling")
		}
		defer stopProfiling()

		req, parseErr := opts.request(args, cmd.ArgsLenAtDash())
		if parseErr != nil {
			return parseErr
		}

		dir, dirErr := global.directory()
		if dirErr != nil {
			return dirErr
		}

		stdout := cmd.OutOrStdout()
		stderr := cmd.ErrOrStderr()
		d := debugger.New(debugger.Config{
			Directory: dir,
			Stdout:    stdout,
			Stderr:    stderr,
			Exit: func(code int) {
				_ = resiliency.RunWithTimeout(stopProfiling, profileFlushTimeout)
				exitProcess(code)
			},
			Logger: log,
		})

		result := d.Debug(ctx, req)
		log.V(1).Info("Debug session completed", "success", result.Success, "language", result.Language)

		if printErr := printResult(stdout, stderr, result, opts); printErr != nil {
			return printErr
		}

		if code := resultExitCode(result); code != 0 {
			return &ExitCodeError{Code: code}
		}
		return nil
	}
}

// request builds the debugger request from the positional arguments.
// dashAt is the number of arguments before "--", or -1 if there was none.
func (opts *debugOptions) request(args []string, dashAt int) (debugger.Request, error) {
	positional, programArgs := args, []string{}
	if dashAt >= 0 {
		positional, programArgs = args[:dashAt], args[dashAt:]
	}

	mode := debugger.Mode(opts.mode)
	if opts.module {
		mode = debugger.ModeModule
	}
	if !slices.Contains([]debugger.Mode{debugger.ModeScript, debugger.ModeModule, debugger.ModeTest}, mode) {
		return debugger.Request{}, fmt.Errorf("%w: invalid mode '%s'; must be 'script', 'module' or 'test'", ErrInvalidArguments, opts.mode)
	}

	wantPositional := 3
	if opts.commandFile != "" {
		wantPositional = 2
	}
	if len(positional) != wantPositional {
		if opts.commandFile != "" {
			return debugger.Request{}, fmt.Errorf("%w: expected <file> <line> when the command is read from a file, got %d argument(s)", ErrInvalidArguments, len(positional))
		}
		return debugger.Request{}, fmt.Errorf("%w: expected <file> <line> <command>, got %d argument(s)", ErrInvalidArguments, len(positional))
	}

	line, lineErr := strconv.Atoi(positional[1])
	if lineErr != nil || line < 1 {
		return debugger.Request{}, fmt.Errorf("%w: invalid line number: %s", ErrInvalidArguments, positional[1])
	}

	var command string
	if opts.commandFile != "" {
		var readErr error
		if command, readErr = readCommandFile(opts.commandFile); readErr != nil {
			return debugger.Request{}, readErr
		}
	} else {
		command = positional[2]
	}

	req := debugger.Request{
		File:     positional[0],
		Line:     line,
		Command:  command,
		Language: opts.language,
		Mode:     mode,
		Args:     programArgs,
		Quiet:    opts.quiet,
	}
	if mode == debugger.ModeModule {
		req.Module = positional[0]
		req.File = ""
	}
	return req, nil
}

// printResult writes what the debugger did not already print while the program ran.
// In-process sessions write the program and command output as they go; adapter sessions only return it.
func printResult(stdout, stderr io.Writer, result commonapi.DebugResult, opts *debugOptions) error {
	if opts.json {
		_, writeErr := stdout.Write(WithNewline([]byte(result.String())))
		return writeErr
	}

	if !result.Success {
		if opts.quiet {
			return nil
		}
		_, writeErr := fmt.Fprintf(stderr, "Error: %s\n", result.ErrorMessage())
		return writeErr
	}

	if _, inProcess := result.Metadata[commonapi.MetadataExitCode]; inProcess {
		return nil
	}

	text := result.Output
	if opts.quiet {
		text = fmt.Sprint(result.Result)
	}
	if text == "" {
		return nil
	}
	_, writeErr := stdout.Write(WithNewline([]byte(text)))
	return writeErr
}

// resultExitCode is the exit code of the program if it ran in-process, otherwise 0 or 1.
func resultExitCode(result commonapi.DebugResult) int {
	if code, isInt := result.Metadata[commonapi.MetadataExitCode].(int); isInt && code != 0 {
		return code
	}
	if !result.Success {
		return 1
	}
	return 0
}
