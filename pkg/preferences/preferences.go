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

// Package preferences reads the desired unit set from a YAML file and
// follows changes to it.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

const loadAttempts = 3

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("preferences file not found")

// file is the on-disk layout.
type file struct {
	Desired   []string `yaml:"desired"`
	Reason    string   `yaml:"reason,omitempty"`
	CacheGUID string   `yaml:"cacheGuid,omitempty"`
}

// Preferences is a desired configuration together with the context it is
// requested with.
type Preferences struct {
	Desired unit.Set
	Context unit.ConfigureContext
}

// Equal reports whether p and other request the same configuration.
func (p Preferences) Equal(other Preferences) bool {
	return p.Desired.Equal(other.Desired) &&
		p.Context.Reason == other.Context.Reason &&
		p.Context.CacheGUID == other.Context.CacheGUID
}

// Parse decodes preferences. A missing reason means Reconfiguration.
func Parse(data []byte) (Preferences, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Preferences{}, fmt.Errorf("parse preferences: %w", err)
	}

	for i, id := range raw.Desired {
		if id == "" {
			return Preferences{}, fmt.Errorf("parse preferences: desired[%d] is empty", i)
		}
	}

	reason := unit.ReasonReconfiguration
	if raw.Reason != "" {
		parsed, err := unit.ParseConfigureReason(raw.Reason)
		if err != nil {
			return Preferences{}, fmt.Errorf("parse preferences: %w", err)
		}

		reason = parsed
	}

	return Preferences{
		Desired: unit.SetOf(raw.Desired...),
		Context: unit.ConfigureContext{Reason: reason, CacheGUID: raw.CacheGUID},
	}, nil
}

// Marshal encodes preferences in the on-disk layout.
func Marshal(p Preferences) ([]byte, error) {
	return yaml.Marshal(file{
		Desired:   p.Desired.Strings(),
		Reason:    p.Context.Reason.String(),
		CacheGUID: p.Context.CacheGUID,
	})
}

// Load reads and parses the file at path. Reads are retried because editors
// briefly leave the file empty or missing while saving; a file that stays
// missing yields ErrNotFound.
func Load(ctx context.Context, path string) (Preferences, error) {
	var prefs Preferences

	read := func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrNotFound, path)
			}

			return backoff.Permanent(fmt.Errorf("read preferences: %w", err))
		}

		parsed, err := Parse(data)
		if err != nil {
			return err
		}

		prefs = parsed

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), loadAttempts), ctx)
	if err := backoff.Retry(read, policy); err != nil {
		return Preferences{}, err
	}

	return prefs, nil
}
