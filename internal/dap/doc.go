/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap evaluates an expression at a breakpoint in programs debugged through
a Debug Adapter Protocol (DAP) adapter.

# Key Components

  - Transport: framed DAP message I/O over stdio pipes or TCP
  - Client: request/response correlation, event queue and event handlers
  - LaunchDebugAdapter: starts an adapter process and connects to it
  - Orchestrator: drives a complete one-shot session

# Session Flow

	start adapter -> initialize -> setBreakpoints -> launch -> configurationDone
	  -> wait for "stopped" -> stackTrace -> evaluate (repl) -> disconnect

The disconnect request (with terminateDebuggee) is sent and the adapter is stopped
whether or not the earlier steps succeeded. A failure of any step is reported as
a StepError inside a failed commonapi.DebugResult.

# Adapter Modes

  - stdio: the adapter speaks DAP over its stdin/stdout
  - tcp: the adapter listens on a port ("{{port}}" in its arguments is replaced
    with a free port unless one is configured) and the client connects to it,
    retrying with exponential backoff until the connection timeout
*/
package dap
