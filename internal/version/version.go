/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"
)

// Set at build time with -ldflags "-X github.com/microsoft/breakeval/internal/version.ProductVersion=...".
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *time.Time `json:"buildTimestamp,omitempty"`
	GoVersion  string     `json:"goVersion"`
	Platform   string     `json:"platform"`
}

func Version() VersionOutput {
	output := VersionOutput{
		Version:    ProductVersion,
		CommitHash: CommitHash,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if output.Version == "" {
		output.Version = DevelopmentVersion
	}

	if buildTime, parsed := parseBuildTimestamp(BuildTimestamp); parsed {
		output.BuildTime = &buildTime
	}

	// Fall back to what the Go toolchain recorded when the values were not set by the build.
	if info, found := debug.ReadBuildInfo(); found {
		if output.Version == DevelopmentVersion && info.Main.Version != "" && info.Main.Version != "(devel)" {
			output.Version = info.Main.Version
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if output.CommitHash == "" {
					output.CommitHash = setting.Value
				}
			case "vcs.time":
				if output.BuildTime == nil {
					if vcsTime, parsed := parseBuildTimestamp(setting.Value); parsed {
						output.BuildTime = &vcsTime
					}
				}
			}
		}
	}

	return output
}

// parseBuildTimestamp accepts Unix seconds or an RFC 3339 time.
func parseBuildTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
