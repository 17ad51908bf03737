// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"time"
)

const (
	// DefaultAdapterConnectionTimeout is the default timeout for connecting to a debug adapter in TCP mode.
	DefaultAdapterConnectionTimeout = 10 * time.Second

	// DefaultAdapterStopGracePeriod is how long the adapter may take to exit after it was asked to terminate.
	DefaultAdapterStopGracePeriod = 3 * time.Second

	// PortPlaceholder in adapter args is replaced with the port the adapter should listen on.
	PortPlaceholder = "{{port}}"

	defaultAdapterHost = "127.0.0.1"
)

// DebugAdapterMode specifies how the debug adapter communicates.
type DebugAdapterMode string

const (
	// DebugAdapterModeStdio indicates the adapter uses stdin/stdout for DAP communication.
	DebugAdapterModeStdio DebugAdapterMode = "stdio"

	// DebugAdapterModeTCP indicates the adapter listens on a port and we connect to it.
	DebugAdapterModeTCP DebugAdapterMode = "tcp"
)

// DebugAdapterConfig holds the configuration for launching a debug adapter process.
type DebugAdapterConfig struct {
	// Args contains the command and arguments to launch the debug adapter.
	// The first element is the executable, subsequent elements are arguments.
	// In TCP mode, "{{port}}" is replaced with the port the adapter should listen on.
	Args []string

	// Mode specifies how the adapter communicates. An empty value means stdio.
	Mode DebugAdapterMode

	// Host and Port the adapter listens on in TCP mode. If Port is zero, a free port is allocated.
	Host string
	Port int

	// Env holds additional environment variables for the adapter process.
	Env map[string]string

	// EnvFiles are .env files whose variables are added to the adapter environment.
	// Variables from Env take precedence.
	EnvFiles []string

	// Dir is the working directory of the adapter process.
	Dir string

	// ConnectionTimeout bounds connecting to the adapter in TCP mode.
	// If zero, DefaultAdapterConnectionTimeout is used.
	ConnectionTimeout time.Duration

	// StopGracePeriod is how long the adapter may take to exit after it was asked to terminate
	// before it is killed. If zero, DefaultAdapterStopGracePeriod is used.
	StopGracePeriod time.Duration
}

// EffectiveMode returns the adapter mode, defaulting to DebugAdapterModeStdio
// if Mode is empty or unrecognized.
func (c *DebugAdapterConfig) EffectiveMode() DebugAdapterMode {
	switch c.Mode {
	case DebugAdapterModeStdio, DebugAdapterModeTCP:
		return c.Mode
	default:
		return DebugAdapterModeStdio
	}
}

func (c *DebugAdapterConfig) GetConnectionTimeout() time.Duration {
	if c.ConnectionTimeout > 0 {
		return c.ConnectionTimeout
	}
	return DefaultAdapterConnectionTimeout
}

func (c *DebugAdapterConfig) GetStopGracePeriod() time.Duration {
	if c.StopGracePeriod > 0 {
		return c.StopGracePeriod
	}
	return DefaultAdapterStopGracePeriod
}

func (c *DebugAdapterConfig) GetHost() string {
	if c.Host != "" {
		return c.Host
	}
	return defaultAdapterHost
}
