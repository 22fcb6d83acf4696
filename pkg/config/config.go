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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
)

// FullConfig is the daemon configuration. Changes require a restart.
type FullConfig struct {
	Agent AgentConfig  `yaml:"agent"`
	Units []UnitConfig `yaml:"units"` // Units the orchestrator manages
}

type AgentConfig struct {
	MetricsAddr     string `yaml:"metricsAddr"`
	APIAddr         string `yaml:"apiAddr"`
	LogLevel        string `yaml:"logLevel,omitempty"`
	SentryDSN       string `yaml:"sentryDsn,omitempty"`
	StatusStorePath string `yaml:"statusStorePath,omitempty"` // empty keeps the status table in memory
	PreferencesPath string `yaml:"preferencesPath"`

	// AuxiliaryUnit is reported by IsAuxiliaryFeatureEnabled
	AuxiliaryUnit string `yaml:"auxiliaryUnit,omitempty"`

	StallThreshold time.Duration `yaml:"stallThreshold,omitempty"`
}

// UnitConfig describes one process unit
type UnitConfig struct {
	ID               string        `yaml:"id"`
	Command          string        `yaml:"command"`
	Args             []string      `yaml:"args,omitempty"`
	Env              []string      `yaml:"env,omitempty"`
	DataDir          string        `yaml:"dataDir,omitempty"`
	StartGracePeriod time.Duration `yaml:"startGracePeriod,omitempty"`
	StopTimeout      time.Duration `yaml:"stopTimeout,omitempty"`
}

// Default returns the configuration used for unset fields.
func Default() FullConfig {
	return FullConfig{
		Agent: AgentConfig{
			MetricsAddr:     constants.DefaultMetricsAddr,
			APIAddr:         constants.DefaultAPIAddr,
			LogLevel:        "info",
			StatusStorePath: constants.DefaultStatusStorePath,
			PreferencesPath: constants.DefaultPreferencesPath,
			StallThreshold:  constants.DefaultStallThreshold,
		},
	}
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	_ = deepcopy.Copy(&clone.Agent, &c.Agent)
	_ = deepcopy.Copy(&clone.Units, &c.Units)

	return clone
}

// Parse decodes data on top of the defaults.
func Parse(data []byte) (FullConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Load reads the file at path. A missing file yields the defaults.
func Load(path string) (FullConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return FullConfig{}, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Validate checks the configuration for errors that would only show up at
// runtime otherwise.
func (c FullConfig) Validate() error {
	var errs []error

	if c.Agent.MetricsAddr == "" {
		errs = append(errs, errors.New("agent.metricsAddr must be set"))
	}

	if c.Agent.APIAddr == "" {
		errs = append(errs, errors.New("agent.apiAddr must be set"))
	}

	if c.Agent.StallThreshold < 0 {
		errs = append(errs, errors.New("agent.stallThreshold must not be negative"))
	}

	seen := make(map[string]struct{}, len(c.Units))

	for i, u := range c.Units {
		if u.ID == "" {
			errs = append(errs, fmt.Errorf("units[%d]: id must be set", i))

			continue
		}

		if _, dup := seen[u.ID]; dup {
			errs = append(errs, fmt.Errorf("units[%d]: duplicate id %s", i, u.ID))
		}

		seen[u.ID] = struct{}{}

		if u.Command == "" {
			errs = append(errs, fmt.Errorf("unit %s: command must be set", u.ID))
		}

		if u.StartGracePeriod < 0 || u.StopTimeout < 0 {
			errs = append(errs, fmt.Errorf("unit %s: durations must not be negative", u.ID))
		}
	}

	if aux := c.Agent.AuxiliaryUnit; aux != "" {
		if _, ok := seen[aux]; !ok {
			errs = append(errs, fmt.Errorf("agent.auxiliaryUnit %s is not a configured unit", aux))
		}
	}

	return errors.Join(errs...)
}
