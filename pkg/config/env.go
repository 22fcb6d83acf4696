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

package config

import (
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/env"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/sentry"
)

// Environment variables that override the config file.
const (
	EnvMetricsAddr     = "ORCHESTRATOR_METRICS_ADDR"
	EnvAPIAddr         = "ORCHESTRATOR_API_ADDR"
	EnvLogLevel        = "LOGGING_LEVEL"
	EnvSentryDSN       = "SENTRY_DSN"
	EnvStatusStorePath = "ORCHESTRATOR_STATUS_STORE_PATH"
	EnvPreferencesPath = "ORCHESTRATOR_PREFERENCES_PATH"
	EnvAuxiliaryUnit   = "ORCHESTRATOR_AUXILIARY_UNIT"
	EnvStallThreshold  = "ORCHESTRATOR_STALL_THRESHOLD"
)

// LoadWithEnvOverrides loads the config file and applies environment
// variable overrides.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (ORCHESTRATOR_*, LOGGING_LEVEL, SENTRY_DSN)
// 2. Config file values
// 3. Default values
//
// Only non-empty variables override. Unlike the file, the environment is
// never written back. Unparsable variables are reported and ignored.
func LoadWithEnvOverrides(path string, log *zap.SugaredLogger) (FullConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return FullConfig{}, err
	}

	overrides := map[string]*string{
		EnvMetricsAddr:     &cfg.Agent.MetricsAddr,
		EnvAPIAddr:         &cfg.Agent.APIAddr,
		EnvLogLevel:        &cfg.Agent.LogLevel,
		EnvSentryDSN:       &cfg.Agent.SentryDSN,
		EnvStatusStorePath: &cfg.Agent.StatusStorePath,
		EnvPreferencesPath: &cfg.Agent.PreferencesPath,
		EnvAuxiliaryUnit:   &cfg.Agent.AuxiliaryUnit,
	}

	for key, target := range overrides {
		value, err := env.GetAsString(key, false, *target)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get %s: %v", key, err)

			continue
		}

		*target = value
	}

	threshold, err := env.GetAsDuration(EnvStallThreshold, false, cfg.Agent.StallThreshold)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get %s: %v", EnvStallThreshold, err)
	} else {
		cfg.Agent.StallThreshold = threshold
	}

	return cfg, nil
}
