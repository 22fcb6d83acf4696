// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version carries the build information set with -ldflags.
package version

import (
	"runtime"
	"runtime/debug"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
)

const unknown = "unknown"

// Set by the build, for example
// -ldflags "-X github.com/united-manufacturing-hub/unit-orchestrator/pkg/version.AppVersion=1.2.3".
var (
	AppVersion = constants.DefaultAppVersion
	Commit     = unknown
	BuildDate  = unknown
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetAppVersion returns the semantic version of the binary.
func GetAppVersion() string {
	return AppVersion
}

// GetInfo returns the build information. Development builds fall back to
// the VCS data embedded by the go tool.
func GetInfo() Info {
	info := Info{
		Version:   AppVersion,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if build, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range build.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.Commit == unknown {
					info.Commit = setting.Value
				}
			case "vcs.time":
				if info.BuildDate == unknown {
					info.BuildDate = setting.Value
				}
			}
		}
	}

	return info
}
