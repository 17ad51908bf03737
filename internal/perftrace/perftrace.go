/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package perftrace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixge/fgprof"
	"github.com/go-logr/logr"

	"github.com/microsoft/breakeval/pkg/logger"
)

const (
	// Environment variable that enables performance trace capture.
	BREAKEVAL_PERF_TRACE = "BREAKEVAL_PERF_TRACE"
)

type ProfileType string

const (
	// Covers the debugging session, from argument parsing to the result being printed.
	ProfileTypeRun ProfileType = "run"
)

var (
	profilingRequests     map[ProfileType]time.Duration
	profilingRequestsOnce sync.Once
)

// CaptureProfileIfRequested starts profiling if BREAKEVAL_PERF_TRACE asks for a profile of the given type.
// Profiling stops when the requested duration elapses, the context is done, or the returned function is called,
// whichever comes first. The returned function is never nil.
func CaptureProfileIfRequested(ctx context.Context, pt ProfileType, log logr.Logger) (func(), error) {
	profilingRequestsOnce.Do(func() {
		profilingRequests = collectProfilingRequests(log)
	})

	duration, found := profilingRequests[pt]
	if !found {
		return func() {}, nil
	}

	profilingCtx, cancel := context.WithTimeout(ctx, duration)
	stop, err := StartProfiling(profilingCtx, string(pt), log)
	if err != nil {
		cancel()
		return func() {}, err
	}
	return func() {
		cancel()
		stop()
	}, nil
}

// StartProfiling profiles the current process until the context is done or the returned function is called.
// The profile is written to the diagnostics log folder; the profile type is part of the file name.
// The returned function waits until the profile is written.
func StartProfiling(ctx context.Context, pt string, log logr.Logger) (func(), error) {
	programName, err := getCurrentProgramName()
	if err != nil {
		return nil, err
	}

	profileFolder, err := logger.EnsureDiagnosticsLogsFolder()
	if err != nil {
		return nil, err
	}

	// The profile name is <programName>-<profileType>-<timestamp>-<pid>.pprof
	profileFileName := fmt.Sprintf("%s-%s-%d-%d.pprof", programName, pt, time.Now().Unix(), os.Getpid())
	profilePath := filepath.Join(profileFolder, profileFileName)
	profileOutput, err := os.OpenFile(profilePath, os.O_RDWR|os.O_CREATE|os.O_EXCL|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file '%s': %w", profileFileName, err)
	}

	stopProfiling := fgprof.Start(profileOutput, fgprof.FormatPprof)
	log.V(1).Info("Profiling started", "profile", profilePath)

	var once sync.Once
	done := make(chan struct{})
	finish := func() {
		once.Do(func() {
			defer close(done)
			if profilingErr := stopProfiling(); profilingErr != nil {
				log.Error(profilingErr, "failed to stop profiling", "profileFileName", profileFileName)
			}
			if closingErr := profileOutput.Close(); closingErr != nil {
				log.Error(closingErr, "failed to close profile file", "profileFileName", profileFileName)
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			finish()
		case <-done:
		}
	}()

	return func() {
		finish()
		<-done
	}, nil
}

func getCurrentProgramName() (string, error) {
	const errFmt = "could not determine the name of the current executable: %w"

	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf(errFmt, err)
	}

	exePath, err = filepath.EvalSymlinks(exePath)
	if err != nil {
		return "", fmt.Errorf(errFmt, err)
	}

	exeName := filepath.Base(exePath)
	ext := filepath.Ext(exeName)
	if ext != "" && len(ext) < len(exeName) {
		exeName = exeName[:len(exeName)-len(ext)]
	}
	return exeName, nil
}

func collectProfilingRequests(log logr.Logger) map[ProfileType]time.Duration {
	requestVar, found := os.LookupEnv(BREAKEVAL_PERF_TRACE)
	if !found {
		return map[ProfileType]time.Duration{}
	}
	return parseProfilingRequests(requestVar, log)
}

// The "profiling requests" come from BREAKEVAL_PERF_TRACE environment variable, and are in the format:
// request-type=duration,request-type=duration,...
// where request-type is "run", and duration is a time duration string.
func parseProfilingRequests(requestStr string, log logr.Logger) map[ProfileType]time.Duration {
	retval := make(map[ProfileType]time.Duration)

	requestStr = strings.TrimSpace(requestStr)
	if requestStr == "" {
		return retval
	}

	for _, rawRequest := range strings.Split(requestStr, ",") {
		name, rawDuration, found := strings.Cut(rawRequest, "=")
		if !found {
			log.Error(errors.New("invalid profiling request '"+rawRequest+"'"), "ignoring profiling request")
			continue
		}

		profileType := ProfileType(strings.TrimSpace(name))
		if profileType != ProfileTypeRun {
			log.Error(fmt.Errorf("invalid profiling request '%s' (unknown profile type)", rawRequest), "ignoring profiling request")
			continue
		}

		duration, err := time.ParseDuration(strings.TrimSpace(rawDuration))
		if err != nil || duration <= 0 {
			log.Error(fmt.Errorf("invalid profiling request '%s' (could not determine the duration)", rawRequest), "ignoring profiling request")
			continue
		}

		retval[profileType] = duration
	}

	return retval
}
