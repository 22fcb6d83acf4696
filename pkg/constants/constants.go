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

package constants

import "time"

const (
	// DefaultAppVersion is the version reported by builds without -ldflags.
	// Sentry stays disabled for it.
	DefaultAppVersion = "0.0.0-dev"

	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

const (
	// DefaultStallThreshold is how long a configuration pass may stay in
	// flight before the stall checker starts warning.
	DefaultStallThreshold = 2 * time.Minute

	// StallCheckInterval is the tick of the stall checker's background loop.
	StallCheckInterval = time.Second

	// UnitReportDebounce suppresses repeated error reports for the same unit.
	UnitReportDebounce = 30 * time.Minute

	// StatusStoreTimeout bounds a single status store read or write.
	StatusStoreTimeout = 5 * time.Second
)

const (
	DefaultConfigPath      = "/data/orchestrator.yaml"
	DefaultPreferencesPath = "/data/preferences.yaml"
	DefaultStatusStorePath = "/data/status.db"
	DefaultMetricsAddr     = ":8080"
	DefaultAPIAddr         = ":8081"

	// ShutdownTimeout bounds the graceful stop of all units and servers.
	ShutdownTimeout = 30 * time.Second

	// PreferencesDebounce coalesces bursts of file events from editors that
	// write via rename.
	PreferencesDebounce = 250 * time.Millisecond
)

const (
	// DefaultStartGracePeriod is how long a process unit must stay alive after
	// launch to count as started.
	DefaultStartGracePeriod = time.Second

	// DefaultStopTimeout is how long a process unit gets after SIGTERM before
	// it is killed.
	DefaultStopTimeout = 10 * time.Second
)
