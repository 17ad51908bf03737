/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/microsoft/breakeval/internal/dap"
)

const (
	DefaultTimeoutSeconds = 30
	maxTimeoutSeconds     = 300
)

type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportTCP   Transport = "tcp"
)

var ErrInvalidConfig = errors.New("invalid adapter configuration")

// AdapterConfig describes how programs written in one language are debugged.
// Values are not modified once they are registered with a Directory.
type AdapterConfig struct {
	Language string `yaml:"language"`

	// Command that starts the debug adapter. In TCP mode "{{port}}" is replaced with Port.
	Command []string `yaml:"command"`

	Transport Transport `yaml:"transport"`

	// Port the adapter listens on in TCP mode. Zero means a free port is picked.
	Port int `yaml:"port,omitempty"`

	// Value of the "type" attribute of the launch request.
	LaunchType string `yaml:"launchType,omitempty"`

	FileExtensions []string `yaml:"fileExtensions,omitempty"`

	// How long to wait for the breakpoint to be hit. Defaults to DefaultTimeoutSeconds.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`

	// Extra environment for the adapter process.
	Env      map[string]string `yaml:"env,omitempty"`
	EnvFiles []string          `yaml:"envFiles,omitempty"`

	// InProcess languages are debugged by the embedded interpreter instead of a debug adapter.
	InProcess bool `yaml:"-"`
}

func (c *AdapterConfig) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("%w: language name is empty", ErrInvalidConfig)
	}
	if c.InProcess {
		return nil
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		return fmt.Errorf("%w: %s: adapter command is empty", ErrInvalidConfig, c.Language)
	}
	switch c.Transport {
	case TransportStdio, TransportTCP:
	default:
		return fmt.Errorf("%w: %s: transport must be 'stdio' or 'tcp', not '%s'", ErrInvalidConfig, c.Language, c.Transport)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %s: port %d is out of range", ErrInvalidConfig, c.Language, c.Port)
	}
	if c.TimeoutSeconds < 0 || c.TimeoutSeconds > maxTimeoutSeconds {
		return fmt.Errorf("%w: %s: timeout must be between 1 and %d seconds", ErrInvalidConfig, c.Language, maxTimeoutSeconds)
	}
	return nil
}

func (c *AdapterConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsToolAvailable reports whether the adapter executable can be found. It is checked on every call.
func (c *AdapterConfig) IsToolAvailable() bool {
	if c.InProcess {
		return true
	}
	if len(c.Command) == 0 {
		return false
	}
	_, err := exec.LookPath(c.Command[0])
	return err == nil
}

// Descriptor returns what the DAP orchestrator needs to debug a program of this language.
func (c *AdapterConfig) Descriptor() dap.AdapterDescriptor {
	mode := dap.DebugAdapterModeStdio
	if c.Transport == TransportTCP {
		mode = dap.DebugAdapterModeTCP
	}

	cfg := *c
	return dap.AdapterDescriptor{
		Language:  c.Language,
		AdapterID: c.Language,
		Config: dap.DebugAdapterConfig{
			Args:     append([]string(nil), c.Command...),
			Mode:     mode,
			Port:     c.Port,
			Env:      c.Env,
			EnvFiles: c.EnvFiles,
		},
		LaunchPayload:  cfg.BuildLaunchPayload,
		StoppedTimeout: c.Timeout(),
	}
}

func (c AdapterConfig) clone() AdapterConfig {
	c.Command = append([]string(nil), c.Command...)
	c.FileExtensions = append([]string(nil), c.FileExtensions...)
	c.EnvFiles = append([]string(nil), c.EnvFiles...)
	if c.Env != nil {
		env := make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			env[k] = v
		}
		c.Env = env
	}
	return c
}
