// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/microsoft/breakeval/pkg/commonapi"
	"github.com/microsoft/breakeval/pkg/process"
)

const (
	DefaultStoppedTimeout    = 30 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second

	stackTraceLevels     = 20
	defaultThreadID      = 1
	evaluateContext      = "repl"
	stopReasonBreakpoint = "breakpoint"
)

// Step identifies a stage of a debug session.
type Step string

const (
	StepStart             Step = "start"
	StepInitialize        Step = "initialize"
	StepSetBreakpoints    Step = "setBreakpoints"
	StepLaunch            Step = "launch"
	StepConfigurationDone Step = "configurationDone"
	StepWaitStopped       Step = "stopped"
	StepStackTrace        Step = "stackTrace"
	StepEvaluate          Step = "evaluate"
)

var (
	ErrBreakpointNotHit  = errors.New("breakpoint not hit within timeout")
	ErrProgramTerminated = errors.New("program terminated before the breakpoint was hit")
	ErrNoStackFrames     = errors.New("no stack frames available")
)

// StepError tells which step of the session failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	switch e.Step {
	case StepStart:
		return fmt.Sprintf("failed to start debug adapter: %v", e.Err)
	case StepInitialize:
		return fmt.Sprintf("failed to initialize debug adapter: %v", e.Err)
	case StepSetBreakpoints:
		return fmt.Sprintf("failed to set breakpoint: %v", e.Err)
	case StepLaunch:
		return fmt.Sprintf("failed to launch program: %v", e.Err)
	case StepConfigurationDone:
		return fmt.Sprintf("failed to complete configuration: %v", e.Err)
	case StepStackTrace:
		return fmt.Sprintf("failed to get stack trace: %v", e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AdapterDescriptor describes how to debug programs of one language through a debug adapter.
type AdapterDescriptor struct {
	Language string

	// AdapterID is sent in the initialize request. Defaults to Language.
	AdapterID string

	Config DebugAdapterConfig

	// LaunchPayload builds the arguments of the launch request for the given program.
	LaunchPayload func(file string, args []string) (map[string]any, error)

	// How long to wait for the program to stop at the breakpoint. Defaults to DefaultStoppedTimeout.
	StoppedTimeout time.Duration
}

type OrchestratorConfig struct {
	Adapter AdapterDescriptor

	// Executor used to run the adapter process. Defaults to an OS executor.
	Executor process.Executor

	// How long to wait for a response to any request. Defaults to the stopped timeout.
	RequestTimeout time.Duration

	// Bounds the disconnect request sent at the end of every session.
	DisconnectTimeout time.Duration

	// StartAdapter overrides how the adapter is started and connected to.
	StartAdapter func(ctx context.Context) (*LaunchedAdapter, error)

	Logger logr.Logger
}

// DebugRequest asks for one expression to be evaluated when the program reaches a line.
type DebugRequest struct {
	File       string
	Line       int
	Expression string
	Args       []string
	Quiet      bool

	// SessionID is reported in the result metadata. Generated if empty.
	SessionID string
}

// Orchestrator runs one-shot debug sessions against a debug adapter: it sets a single breakpoint,
// launches the program, evaluates an expression in the top frame when the breakpoint is hit,
// and tears the session down.
type Orchestrator struct {
	config OrchestratorConfig
	log    logr.Logger
}

func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if config.Adapter.AdapterID == "" {
		config.Adapter.AdapterID = config.Adapter.Language
	}
	if config.Adapter.StoppedTimeout <= 0 {
		config.Adapter.StoppedTimeout = DefaultStoppedTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = config.Adapter.StoppedTimeout
	}
	if config.DisconnectTimeout <= 0 {
		config.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if config.Executor == nil {
		executor := process.NewOSExecutor(log)
		executor.StopGracePeriod = config.Adapter.Config.GetStopGracePeriod()
		config.Executor = executor
	}

	return &Orchestrator{
		config: config,
		log:    log.WithName("orchestrator").WithValues("language", config.Adapter.Language),
	}
}

type evaluation struct {
	value     string
	valueType string
}

// Run performs one debug session. Failures of any step are reported in the result, never returned.
func (o *Orchestrator) Run(ctx context.Context, req DebugRequest) commonapi.DebugResult {
	lang := o.config.Adapter.Language
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	md := map[string]any{commonapi.MetadataSessionID: sessionID}

	file, absErr := filepath.Abs(req.File)
	if absErr != nil {
		return commonapi.Failed(lang, fmt.Errorf("invalid file path '%s': %w", req.File, absErr), md)
	}
	if info, statErr := os.Stat(file); statErr != nil || info.IsDir() {
		return commonapi.Failed(lang, fmt.Errorf("File not found: %s", req.File), md)
	}

	adapter, startErr := o.startAdapter(ctx)
	if startErr != nil {
		return o.failed(&StepError{Step: StepStart, Err: startErr}, md)
	}

	client := NewClient(ctx, adapter.Transport, ClientConfig{
		RequestTimeout: o.config.RequestTimeout,
		Logger:         o.log,
	})

	var outputMu sync.Mutex
	var adapterOutput strings.Builder
	client.OnEvent("output", func(ev dap.EventMessage) {
		if oe, isOutput := ev.(*dap.OutputEvent); isOutput {
			outputMu.Lock()
			adapterOutput.WriteString(oe.Body.Output)
			outputMu.Unlock()
		}
	})

	eval, sessionErr := o.debug(ctx, client, file, req, md)

	o.teardown(ctx, client, adapter)

	outputMu.Lock()
	md[commonapi.MetadataAdapterOutput] = adapterOutput.String()
	outputMu.Unlock()

	if sessionErr != nil {
		return o.failed(sessionErr, md)
	}

	md[commonapi.MetadataType] = eval.valueType
	output := ""
	if !req.Quiet {
		output = fmt.Sprintf("Expression: %s\nResult: %s", req.Expression, eval.value)
		if eval.valueType != "" {
			output += fmt.Sprintf("\nType: %s", eval.valueType)
		}
	}
	return commonapi.Succeeded(lang, eval.value, output, md)
}

func (o *Orchestrator) startAdapter(ctx context.Context) (*LaunchedAdapter, error) {
	if o.config.StartAdapter != nil {
		return o.config.StartAdapter(ctx)
	}
	return LaunchDebugAdapter(ctx, o.config.Executor, &o.config.Adapter.Config, o.log)
}

func (o *Orchestrator) debug(ctx context.Context, client *Client, file string, req DebugRequest, md map[string]any) (evaluation, error) {
	if _, initErr := client.Initialize(ctx, o.config.Adapter.AdapterID); initErr != nil {
		return evaluation{}, &StepError{Step: StepInitialize, Err: initErr}
	}

	bpResp, bpErr := client.SetBreakpoints(ctx, file, filepath.Base(file), []int{req.Line})
	if bpErr != nil {
		return evaluation{}, &StepError{Step: StepSetBreakpoints, Err: bpErr}
	}
	verified := len(bpResp.Body.Breakpoints) > 0 && bpResp.Body.Breakpoints[0].Verified
	md[commonapi.MetadataBreakpointVerified] = verified
	if !verified {
		o.log.V(1).Info("Breakpoint is not verified yet", "file", file, "line", req.Line)
	}

	payload := map[string]any{"program": file}
	if o.config.Adapter.LaunchPayload != nil {
		var payloadErr error
		payload, payloadErr = o.config.Adapter.LaunchPayload(file, req.Args)
		if payloadErr != nil {
			return evaluation{}, &StepError{Step: StepLaunch, Err: payloadErr}
		}
	}
	if launchErr := client.Launch(ctx, payload); launchErr != nil {
		return evaluation{}, &StepError{Step: StepLaunch, Err: launchErr}
	}

	if cfgErr := client.ConfigurationDone(ctx); cfgErr != nil {
		return evaluation{}, &StepError{Step: StepConfigurationDone, Err: cfgErr}
	}

	ev, waitErr := client.WaitForAnyEvent(ctx, o.config.Adapter.StoppedTimeout, "stopped", "terminated", "exited")
	if waitErr != nil {
		if errors.Is(waitErr, ErrEventTimeout) {
			waitErr = ErrBreakpointNotHit
		}
		return evaluation{}, &StepError{Step: StepWaitStopped, Err: waitErr}
	}
	stopped, isStopped := ev.(*dap.StoppedEvent)
	if !isStopped {
		return evaluation{}, &StepError{Step: StepWaitStopped, Err: ErrProgramTerminated}
	}

	md[commonapi.MetadataStopReason] = stopped.Body.Reason
	if stopped.Body.Reason != stopReasonBreakpoint {
		return evaluation{}, &StepError{Step: StepWaitStopped, Err: fmt.Errorf("program stopped due to: %s", stopped.Body.Reason)}
	}

	threadID := stopped.Body.ThreadId
	if threadID == 0 {
		threadID = defaultThreadID
	}
	md[commonapi.MetadataThreadID] = threadID

	stResp, stErr := client.StackTrace(ctx, threadID, stackTraceLevels)
	if stErr != nil {
		return evaluation{}, &StepError{Step: StepStackTrace, Err: stErr}
	}
	if len(stResp.Body.StackFrames) == 0 {
		return evaluation{}, &StepError{Step: StepStackTrace, Err: ErrNoStackFrames}
	}
	top := stResp.Body.StackFrames[0]
	md[commonapi.MetadataFrameID] = top.Id
	if top.Source != nil && top.Source.Path != "" {
		md[commonapi.MetadataHitLocation] = fmt.Sprintf("%s:%d", top.Source.Path, top.Line)
	}

	evalResp, evalErr := client.Evaluate(ctx, req.Expression, top.Id, evaluateContext)
	if evalErr != nil {
		var respErr *ResponseError
		if errors.As(evalErr, &respErr) && respErr.Message == "" {
			evalErr = errors.New("expression evaluation failed")
		}
		return evaluation{}, &StepError{Step: StepEvaluate, Err: evalErr}
	}

	return evaluation{value: evalResp.Body.Result, valueType: evalResp.Body.Type}, nil
}

// teardown always disconnects (terminating the debuggee), then closes the client and stops the adapter.
func (o *Orchestrator) teardown(ctx context.Context, client *Client, adapter *LaunchedAdapter) {
	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.DisconnectTimeout)
	defer cancel()

	var errs []error
	if disconnectErr := client.Disconnect(disconnectCtx, true); disconnectErr != nil && !IsTransportError(disconnectErr) {
		errs = append(errs, disconnectErr)
	}
	errs = append(errs, client.Close())
	errs = append(errs, filterContextError(adapter.Stop(), ctx, o.log))

	if teardownErr := errors.Join(errs...); teardownErr != nil {
		o.log.V(1).Info("Debug session teardown did not complete cleanly", "error", teardownErr.Error())
	}
}

func (o *Orchestrator) failed(err error, md map[string]any) commonapi.DebugResult {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		md[commonapi.MetadataFailedStep] = string(stepErr.Step)
	}
	o.log.V(1).Info("Debug session failed", "error", err.Error())
	return commonapi.Failed(o.config.Adapter.Language, err, md)
}
