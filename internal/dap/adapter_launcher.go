// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"

	"github.com/microsoft/breakeval/pkg/process"
	"github.com/microsoft/breakeval/pkg/resiliency"
)

// LaunchedAdapter represents a running debug adapter process with its transport.
type LaunchedAdapter struct {
	// Transport provides DAP message I/O with the debug adapter.
	Transport Transport

	pid      int32
	executor process.Executor
	log      logr.Logger

	// done is closed when the process has exited.
	done chan struct{}

	mu       sync.Mutex
	exitCode int32
	exitErr  error
	doneOnce sync.Once
}

// NewConnectedAdapter wraps a transport to an adapter whose process is managed elsewhere.
// Stop closes the transport and marks the adapter as done.
func NewConnectedAdapter(transport Transport) *LaunchedAdapter {
	return &LaunchedAdapter{
		Transport: transport,
		pid:       process.UnknownPID,
		log:       logr.Discard(),
		done:      make(chan struct{}),
		exitCode:  process.UnknownExitCode,
	}
}

// Wait blocks until the debug adapter process exits.
func (la *LaunchedAdapter) Wait() error {
	<-la.done
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.exitErr
}

// ExitCode returns the process exit code. Only valid after Wait() returns.
func (la *LaunchedAdapter) ExitCode() int32 {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.exitCode
}

// Done returns a channel that is closed when the debug adapter process exits.
func (la *LaunchedAdapter) Done() <-chan struct{} {
	return la.done
}

// Stop closes the transport and stops the adapter process: it is asked to terminate first,
// and killed if it is still running after the grace period.
func (la *LaunchedAdapter) Stop() error {
	var errs []error
	if la.Transport != nil {
		if closeErr := la.Transport.Close(); closeErr != nil {
			errs = append(errs, closeErr)
		}
	}

	if la.executor != nil && la.pid != process.UnknownPID {
		select {
		case <-la.done:
		default:
			stopErr := la.executor.StopProcess(la.pid)
			if stopErr != nil && !errors.Is(stopErr, process.ErrProcessNotFound) {
				errs = append(errs, stopErr)
			}
		}
	} else {
		la.doneOnce.Do(func() { close(la.done) })
	}

	return errors.Join(errs...)
}

func (la *LaunchedAdapter) onExited(pid int32, exitCode int32, err error) {
	la.mu.Lock()
	la.exitCode = exitCode
	la.exitErr = err
	la.mu.Unlock()
	la.doneOnce.Do(func() { close(la.done) })

	if err != nil {
		la.log.V(1).Info("Debug adapter process exited with error", "pid", pid, "exitCode", exitCode, "error", err.Error())
	} else {
		la.log.V(1).Info("Debug adapter process exited", "pid", pid, "exitCode", exitCode)
	}
}

// LaunchDebugAdapter launches a debug adapter process using the provided configuration
// and connects to it. The process lifetime is tied to the provided context: when the context
// is cancelled, the process is stopped by the executor.
//
// The caller should call Stop() on the returned adapter when done with it.
func LaunchDebugAdapter(ctx context.Context, executor process.Executor, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	if config == nil || len(config.Args) == 0 || config.Args[0] == "" {
		return nil, fmt.Errorf("%w: the adapter command is empty", ErrInvalidAdapterConfig)
	}

	env, envErr := buildEnv(config)
	if envErr != nil {
		return nil, envErr
	}

	switch config.EffectiveMode() {
	case DebugAdapterModeTCP:
		return launchTCPAdapter(ctx, executor, config, env, log)
	default:
		return launchStdioAdapter(ctx, executor, config, env, log)
	}
}

func launchStdioAdapter(ctx context.Context, executor process.Executor, config *DebugAdapterConfig, env []string, log logr.Logger) (*LaunchedAdapter, error) {
	cmd := exec.Command(config.Args[0], config.Args[1:]...)
	cmd.Env = env
	cmd.Dir = config.Dir

	stdin, stdinErr := cmd.StdinPipe()
	if stdinErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", stdinErr)
	}
	stdout, stdoutErr := cmd.StdoutPipe()
	if stdoutErr != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", stdoutErr)
	}
	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	adapter, startErr := startAdapterProcess(ctx, executor, cmd, log)
	if startErr != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, startErr
	}

	go logStderr(stderr, log)

	log.Info("Launched debug adapter process (stdio mode)", "command", config.Args[0], "args", config.Args[1:], "pid", adapter.pid)

	adapter.Transport = NewStdioTransport(stdout, stdin)
	return adapter, nil
}

func launchTCPAdapter(ctx context.Context, executor process.Executor, config *DebugAdapterConfig, env []string, log logr.Logger) (*LaunchedAdapter, error) {
	host := config.GetHost()
	port := config.Port
	if port == 0 {
		freePort, portErr := getFreePort(host)
		if portErr != nil {
			return nil, fmt.Errorf("failed to allocate port: %w", portErr)
		}
		port = freePort
	}

	args := substitutePort(config.Args, strconv.Itoa(port))
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = env
	cmd.Dir = config.Dir

	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	adapter, startErr := startAdapterProcess(ctx, executor, cmd, log)
	if startErr != nil {
		stderr.Close()
		return nil, startErr
	}

	go logStderr(stderr, log)

	address := net.JoinHostPort(host, strconv.Itoa(port))
	log.Info("Launched debug adapter process (tcp mode)", "command", args[0], "args", args[1:], "pid", adapter.pid, "address", address)

	// The adapter needs some time to start listening; retry until it accepts the connection.
	connectCtx, cancel := context.WithTimeout(ctx, config.GetConnectionTimeout())
	defer cancel()

	conn, connectErr := resiliency.RetryGet(connectCtx, func() (net.Conn, error) {
		select {
		case <-adapter.done:
			return nil, resiliency.Permanent(ErrAdapterExited)
		default:
		}
		var d net.Dialer
		return d.DialContext(connectCtx, "tcp", address)
	})
	if connectErr != nil {
		_ = adapter.Stop()
		if errors.Is(connectErr, ErrAdapterExited) || ctx.Err() != nil {
			return nil, fmt.Errorf("could not connect to debug adapter at %s: %w", address, connectErr)
		}
		return nil, fmt.Errorf("%w: could not connect to adapter at %s: %v", ErrAdapterConnectionTimeout, address, connectErr)
	}

	log.Info("Connected to debug adapter", "address", address)
	adapter.Transport = NewTCPTransport(conn)
	return adapter, nil
}

func startAdapterProcess(ctx context.Context, executor process.Executor, cmd *exec.Cmd, log logr.Logger) (*LaunchedAdapter, error) {
	adapter := &LaunchedAdapter{
		executor: executor,
		log:      log,
		done:     make(chan struct{}),
		exitCode: process.UnknownExitCode,
	}

	pid, startWaitForExit, startErr := executor.StartProcess(ctx, cmd, process.ProcessExitHandlerFunc(adapter.onExited))
	if startErr != nil {
		return nil, fmt.Errorf("could not start adapter process: %w", startErr)
	}
	adapter.pid = pid

	// Pipe reads complete once the adapter exits, so waiting can start right away.
	startWaitForExit()

	return adapter, nil
}

// substitutePort replaces the port placeholder in args with the actual port.
func substitutePort(args []string, port string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = strings.ReplaceAll(arg, PortPlaceholder, port)
	}
	return result
}

// buildEnv builds the environment for the adapter process: the current environment,
// then variables from the .env files, then the configured variables.
func buildEnv(config *DebugAdapterConfig) ([]string, error) {
	env := os.Environ()

	// Clear GOFLAGS to avoid issues when launching Go tools (like dlv).
	env = append(env, "GOFLAGS=")

	if len(config.EnvFiles) > 0 {
		fileVars, readErr := godotenv.Read(config.EnvFiles...)
		if readErr != nil {
			return nil, fmt.Errorf("%w: could not read environment files: %v", ErrInvalidAdapterConfig, readErr)
		}
		env = appendSorted(env, fileVars)
	}

	return appendSorted(env, config.Env), nil
}

func appendSorted(env []string, vars map[string]string) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, name+"="+vars[name])
	}
	return env
}

func getFreePort(host string) (int, error) {
	l, listenErr := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if listenErr != nil {
		return 0, listenErr
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// logStderr logs stderr output of the adapter line by line.
func logStderr(stderr io.Reader, log logr.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.V(1).Info("Debug adapter stderr", "output", scanner.Text())
	}
}
