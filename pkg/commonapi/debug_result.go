/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commonapi

import (
	"encoding/json"
	"maps"
)

// Well-known metadata keys set on DebugResult.Metadata.
const (
	MetadataSessionID          = "session_id"
	MetadataType               = "type"
	MetadataFrameID            = "frame_id"
	MetadataThreadID           = "thread_id"
	MetadataBreakpointVerified = "breakpoint_verified"
	MetadataAdapterOutput      = "adapter_output"
	MetadataExitCode           = "exit_code"
	MetadataHitLocation        = "hit_location"
	MetadataFailedStep         = "failed_step"
	MetadataStopReason         = "stop_reason"
	MetadataBreakpointHit      = "breakpoint_hit"
	MetadataTermination        = "termination"
	MetadataCommandError       = "command_error"
	MetadataMode               = "mode"
)

// DebugResult is the uniform outcome of a one-shot debugging run, regardless of language
// or the execution path that produced it.
// A result is successful if and only if Error is nil.
type DebugResult struct {
	Success  bool           `json:"success"`
	Result   any            `json:"result"`
	Output   string         `json:"output"`
	Error    *string        `json:"error"`
	Language string         `json:"language"`
	Metadata map[string]any `json:"metadata"`
}

// Succeeded creates a successful result.
func Succeeded(language string, result any, output string, metadata map[string]any) DebugResult {
	return DebugResult{
		Success:  true,
		Result:   result,
		Output:   output,
		Language: language,
		Metadata: cloneMetadata(metadata),
	}
}

// Failed creates a failed result carrying the error message.
func Failed(language string, err error, metadata map[string]any) DebugResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return DebugResult{
		Success:  false,
		Error:    &msg,
		Language: language,
		Metadata: cloneMetadata(metadata),
	}
}

// ErrorMessage returns the error text, or an empty string for successful results.
func (r DebugResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// WithMetadata returns a copy of the result with the key set in its metadata.
func (r DebugResult) WithMetadata(key string, value any) DebugResult {
	md := cloneMetadata(r.Metadata)
	md[key] = value
	r.Metadata = md
	return r
}

// WithOutput returns a copy of the result with the output replaced.
func (r DebugResult) WithOutput(output string) DebugResult {
	r.Output = output
	return r
}

func (r DebugResult) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func cloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return map[string]any{}
	}
	return maps.Clone(md)
}
