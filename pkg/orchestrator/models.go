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

package orchestrator

import (
	"context"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statustable"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// State is the lifecycle state of the orchestrator as a whole.
type State string

const (
	StateStopped     State = "STOPPED"
	StateConfiguring State = "CONFIGURING"
	// StateRetrying means the running pass was superseded and a fresh pass
	// follows once it settles.
	StateRetrying    State = "RETRYING"
	StateConfigured  State = "CONFIGURED"
	StateStopping    State = "STOPPING"
)

// ConfigureStatus is the outcome of a configuration.
type ConfigureStatus int

const (
	ConfigureStatusUnknown ConfigureStatus = iota - 1
	ConfigureStatusOK
	ConfigureStatusAborted
	ConfigureStatusUnrecoverableError
)

// ConfigureStatusToString returns the wire name of a status.
func ConfigureStatusToString(status ConfigureStatus) string {
	switch status {
	case ConfigureStatusOK:
		return "OK"
	case ConfigureStatusAborted:
		return "ABORTED"
	case ConfigureStatusUnrecoverableError:
		return "UNRECOVERABLE_ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s ConfigureStatus) String() string {
	return ConfigureStatusToString(s)
}

func (s ConfigureStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConfigureResult is delivered exactly once per configuration that is not
// superseded.
type ConfigureResult struct {
	Status         ConfigureStatus      `json:"status"`
	RequestedTypes unit.Set             `json:"requestedTypes"`
	StatusTable    statustable.Snapshot `json:"statusTable"`
	PassID         string               `json:"passId,omitempty"`
	Err            error                `json:"-"`
}

// Observer receives configuration notifications. Both methods run on the
// orchestrator's goroutine and must not block. Calling back into the
// orchestrator from them is allowed.
type Observer interface {
	OnConfigureStart()
	OnConfigureDone(result ConfigureResult)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Start func()
	Done  func(ConfigureResult)
}

func (f ObserverFuncs) OnConfigureStart() {
	if f.Start != nil {
		f.Start()
	}
}

func (f ObserverFuncs) OnConfigureDone(result ConfigureResult) {
	if f.Done != nil {
		f.Done(result)
	}
}

// StatusStore persists the status table across restarts.
type StatusStore interface {
	Load(ctx context.Context) (statustable.Snapshot, error)
	Save(ctx context.Context, snapshot statustable.Snapshot) error
}
