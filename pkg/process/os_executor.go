/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const (
	DefaultStopGracePeriod = 5 * time.Second
	killWaitTimeout        = 5 * time.Second
)

type waitState struct {
	cmd      *exec.Cmd
	once     sync.Once
	done     chan struct{}
	waitErr  error
	stopping bool
}

func (ws *waitState) startWaiting() {
	ws.once.Do(func() {
		go func() {
			ws.waitErr = ws.cmd.Wait()
			close(ws.done)
		}()
	})
}

type OSExecutor struct {
	procs map[int32]*waitState
	lock  *sync.Mutex
	log   logr.Logger

	// How long a process is given to exit after it was asked to terminate, before it is killed.
	StopGracePeriod time.Duration
}

func NewOSExecutor(log logr.Logger) *OSExecutor {
	return &OSExecutor{
		procs:           make(map[int32]*waitState),
		lock:            &sync.Mutex{},
		log:             log.WithName("os-executor"),
		StopGracePeriod: DefaultStopGracePeriod,
	}
}

func (e *OSExecutor) StartProcess(ctx context.Context, cmd *exec.Cmd, handler ProcessExitHandler) (int32, func(), error) {
	if err := cmd.Start(); err != nil {
		return UnknownPID, nil, err
	}

	pid := int32(cmd.Process.Pid)
	ws := &waitState{cmd: cmd, done: make(chan struct{})}

	e.lock.Lock()
	e.procs[pid] = ws
	e.lock.Unlock()

	go func() {
		var stopErr error

		select {
		case <-ws.done:
		case <-ctx.Done():
			if e.markStopping(ws) {
				stopErr = e.stop(pid, ws)
			}
			if stopErr != nil {
				e.log.Error(stopErr, "process did not stop upon context expiration", "PID", pid)
				if handler != nil {
					handler.OnProcessExited(pid, UnknownExitCode, errors.Join(stopErr, ctx.Err()))
				}
				return
			}
			<-ws.done
		}

		e.lock.Lock()
		delete(e.procs, pid)
		e.lock.Unlock()

		if handler != nil {
			exitCode, execErr := getProcessExecResult(ws.waitErr, cmd)
			handler.OnProcessExited(pid, exitCode, errors.Join(ctx.Err(), execErr))
		}
	}()

	return pid, ws.startWaiting, nil
}

func (e *OSExecutor) StopProcess(pid int32) error {
	e.lock.Lock()
	ws, found := e.procs[pid]
	e.lock.Unlock()
	if !found {
		return fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}

	if !e.markStopping(ws) {
		// Someone else is stopping the process, just wait for it to go away.
		ws.startWaiting()
		<-ws.done
		return nil
	}
	return e.stop(pid, ws)
}

// Returns true if the caller is the first one to stop the process (and thus must do the stopping).
func (e *OSExecutor) markStopping(ws *waitState) bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	if ws.stopping {
		return false
	}
	ws.stopping = true
	return true
}

func (e *OSExecutor) stop(pid int32, ws *waitState) error {
	ws.startWaiting()

	select {
	case <-ws.done:
		return nil
	default:
	}

	if err := terminate(ws.cmd.Process); err != nil {
		e.log.V(1).Info("could not ask process to terminate", "PID", pid, "Error", err.Error())
	} else {
		select {
		case <-ws.done:
			e.log.V(1).Info("process terminated", "PID", pid)
			return nil
		case <-time.After(e.StopGracePeriod):
		}
	}

	if err := ws.cmd.Process.Kill(); err != nil {
		select {
		case <-ws.done:
			return nil
		default:
			return fmt.Errorf("could not kill process %d: %w", pid, err)
		}
	}

	select {
	case <-ws.done:
		e.log.V(1).Info("process killed", "PID", pid)
		return nil
	case <-time.After(killWaitTimeout):
		return fmt.Errorf("process %d did not exit after it was killed: %w", pid, context.DeadlineExceeded)
	}
}

// Returns the process exit code and execution error depending on the result of command wait call.
func getProcessExecResult(waitErr error, cmd *exec.Cmd) (int32, error) {
	var ee *exec.ExitError
	switch {
	case waitErr == nil:
		return int32(cmd.ProcessState.ExitCode()), nil
	case errors.As(waitErr, &ee):
		return int32(ee.ExitCode()), nil
	default:
		return UnknownExitCode, waitErr
	}
}

var _ Executor = (*OSExecutor)(nil)
