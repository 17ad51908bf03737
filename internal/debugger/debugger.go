/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package debugger is the single entry point for one-shot breakpoint evaluation.
// Lua programs run in-process under the breakpoint tracer; programs in other languages
// are debugged through their debug adapter.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/microsoft/breakeval/internal/dap"
	"github.com/microsoft/breakeval/internal/languages"
	"github.com/microsoft/breakeval/internal/session"
	"github.com/microsoft/breakeval/pkg/commonapi"
	"github.com/microsoft/breakeval/pkg/process"
)

const LanguageAuto = "auto"

type Mode string

const (
	ModeScript Mode = "script"
	ModeModule Mode = "module"
	ModeTest   Mode = "test"
)

var (
	ErrToolNotAvailable   = errors.New("debugger is not available")
	ErrModeNotSupported   = errors.New("mode is not supported")
	ErrProgramFailedEarly = errors.New("program failed before reaching the breakpoint")
)

// Request asks for Command to be evaluated when the program reaches File:Line.
type Request struct {
	File    string
	Line    int
	Command string

	// Language of the program. Empty or "auto" means it is detected from File.
	Language string

	// Defaults to ModeScript.
	Mode Mode

	// Dotted name of the module to run in ModeModule.
	Module string

	// Program arguments. In ModeTest, arguments of the test runner.
	Args []string

	Quiet bool
}

type Config struct {
	// Defaults to the built-in languages.
	Directory *languages.Directory

	// Runs debug adapter processes. Defaults to an OS executor.
	Executor process.Executor

	// StartAdapter overrides how debug adapters are started.
	StartAdapter func(ctx context.Context, desc dap.AdapterDescriptor) (*dap.LaunchedAdapter, error)

	// Where in-process programs write. Default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Terminates the process when a breakpoint requires it. Defaults to os.Exit.
	Exit func(code int)

	Logger logr.Logger
}

type Debugger struct {
	config Config
	log    logr.Logger
}

func New(config Config) *Debugger {
	if config.Directory == nil {
		config.Directory = languages.NewDirectory()
	}
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Debugger{config: config, log: log.WithName("debugger")}
}

// Debug runs one debugging session with the default configuration.
func Debug(ctx context.Context, req Request) commonapi.DebugResult {
	return New(Config{}).Debug(ctx, req)
}

// Debug runs one debugging session. Every outcome, including setup failures, is reported in the result.
func (d *Debugger) Debug(ctx context.Context, req Request) commonapi.DebugResult {
	if req.Mode == "" {
		req.Mode = ModeScript
	}
	sessionID := uuid.NewString()
	md := map[string]any{
		commonapi.MetadataSessionID: sessionID,
		commonapi.MetadataMode:      string(req.Mode),
	}

	lang, langErr := d.language(req)
	if langErr != nil {
		return commonapi.Failed("unknown", langErr, md)
	}

	handle, resolveErr := d.config.Directory.Resolve(lang)
	if resolveErr != nil {
		return commonapi.Failed(lang, resolveErr, md)
	}

	log := d.log.WithValues("language", lang, "sessionID", sessionID)
	log.V(1).Info("Starting debug session", "file", req.File, "line", req.Line, "mode", req.Mode)

	if handle.InProcess() {
		return d.debugInProcess(ctx, handle, req, md, log)
	}
	return d.debugWithAdapter(ctx, handle, req, sessionID, md, log)
}

func (d *Debugger) language(req Request) (string, error) {
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang != "" && lang != LanguageAuto {
		return lang, nil
	}
	// Dotted module names are only runnable in-process.
	if req.Mode == ModeModule && req.File == "" {
		return languages.Lua, nil
	}
	return d.config.Directory.Detect(req.File)
}

func (d *Debugger) debugInProcess(ctx context.Context, handle languages.Handle, req Request, md map[string]any, log logr.Logger) commonapi.DebugResult {
	lang := handle.Language()
	opts := session.Options{
		File:    req.File,
		Line:    req.Line,
		Command: req.Command,
		Args:    req.Args,
		Quiet:   req.Quiet,
		Stdout:  d.config.Stdout,
		Stderr:  d.config.Stderr,
		Exit:    d.config.Exit,
		Logger:  log,
	}

	var outcome session.Outcome
	var runErr error
	switch req.Mode {
	case ModeScript:
		outcome, runErr = session.RunScript(ctx, opts)
	case ModeModule:
		outcome, runErr = session.RunModule(ctx, opts, req.Module)
	case ModeTest:
		testArgs := opts.Args
		opts.Args = nil
		outcome, runErr = session.RunTests(ctx, opts, testArgs)
	default:
		return commonapi.Failed(lang, fmt.Errorf("%w: %s", ErrModeNotSupported, req.Mode), md)
	}
	if runErr != nil {
		return commonapi.Failed(lang, runErr, md)
	}

	md[commonapi.MetadataExitCode] = outcome.ExitCode
	md[commonapi.MetadataBreakpointHit] = outcome.State == session.StateFired
	md[commonapi.MetadataTermination] = outcome.Termination.String()

	if outcome.State != session.StateFired {
		if outcome.ExitCode != 0 {
			return commonapi.Failed(lang, fmt.Errorf("%w: exit code %d", ErrProgramFailedEarly, outcome.ExitCode), md)
		}
		return commonapi.Succeeded(lang, nil, "", md)
	}

	md[commonapi.MetadataHitLocation] = fmt.Sprintf("%s:%d", outcome.HitFile, outcome.HitLine)
	if outcome.UserError != "" {
		md[commonapi.MetadataCommandError] = outcome.UserError
	}

	var result any = strings.TrimRight(outcome.Output, "\n")
	if outcome.HasValue {
		result = outcome.Value
	}
	return commonapi.Succeeded(lang, result, outcome.Output, md)
}

func (d *Debugger) debugWithAdapter(ctx context.Context, handle languages.Handle, req Request, sessionID string, md map[string]any, log logr.Logger) commonapi.DebugResult {
	lang := handle.Language()
	if req.Mode != ModeScript {
		return commonapi.Failed(lang, fmt.Errorf("%w: %s mode is only available for %s", ErrModeNotSupported, req.Mode, languages.Lua), md)
	}
	if !handle.IsToolAvailable() {
		cfg := handle.Config()
		return commonapi.Failed(lang, fmt.Errorf("%w: '%s' for %s was not found in PATH", ErrToolNotAvailable, cfg.Command[0], lang), md)
	}

	desc := handle.Descriptor()
	orchestratorConfig := dap.OrchestratorConfig{
		Adapter:  desc,
		Executor: d.config.Executor,
		Logger:   log,
	}
	if d.config.StartAdapter != nil {
		orchestratorConfig.StartAdapter = func(ctx context.Context) (*dap.LaunchedAdapter, error) {
			return d.config.StartAdapter(ctx, desc)
		}
	}

	result := dap.NewOrchestrator(orchestratorConfig).Run(ctx, dap.DebugRequest{
		File:       req.File,
		Line:       req.Line,
		Expression: req.Command,
		Args:       req.Args,
		Quiet:      req.Quiet,
		SessionID:  sessionID,
	})
	return result.WithMetadata(commonapi.MetadataMode, string(req.Mode))
}
