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

// Package unit holds the vocabulary shared between the orchestrator and the
// units it drives: identifiers and sets, lifecycle states, reasons, typed
// errors and the Controller contract.
package unit

import (
	"context"
	"fmt"
)

// Controller is the boundary between the orchestrator and one unit.
//
// The orchestrator calls Start and Stop on a goroutine of its own and never
// calls them concurrently for the same unit: a Stop is only issued after a
// running Start returned, and a Start only after a running Stop returned.
// Both may block for as long as the operation takes; the orchestrator
// enforces no timeout.
type Controller interface {
	// ID returns the unit's identifier. It must not change.
	ID() ID

	// Start brings the unit up. A nil error means Running. A non-nil error
	// marks the unit Failed; wrap it in *Error to choose the ErrorKind.
	Start(ctx context.Context, cfg ConfigureContext) error

	// Stop brings the unit down. The unit counts as stopped when Stop
	// returns, whatever the error. DisableSync asks the unit to discard its
	// persisted state as well.
	Stop(ctx context.Context, reason ShutdownReason) error

	// IsReadyForStart reports whether the unit's own start precondition
	// holds. It must be cheap and must not block.
	IsReadyForStart() bool
}

// State is the lifecycle state of one unit as tracked by the orchestrator.
type State string

const (
	StateNotRunning State = "not_running"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateFailed     State = "failed"
)

// ConfigureReason tells controllers why a configuration pass happens.
type ConfigureReason int

const (
	ReasonUnknown ConfigureReason = iota
	// ReasonReconfiguration is a change of the desired set by the user.
	ReasonReconfiguration
	// ReasonMigration follows PurgeForMigration.
	ReasonMigration
	// ReasonNewClient is the first configuration of a fresh installation.
	ReasonNewClient
	// ReasonNewlyEnabledDataType adds units to an existing configuration.
	ReasonNewlyEnabledDataType
	// ReasonCrypto follows a change of the encryption state.
	ReasonCrypto
	// ReasonExistingClient is the first configuration after a restart.
	ReasonExistingClient
	// ReasonProgrammatic is triggered by the orchestrator itself, for example
	// by ReenableType or ReadyForStartChanged.
	ReasonProgrammatic
)

var reasonNames = []string{
	"unknown",
	"reconfiguration",
	"migration",
	"new_client",
	"newly_enabled_data_type",
	"crypto",
	"existing_client",
	"programmatic",
}

func (r ConfigureReason) String() string {
	if int(r) >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}

	return fmt.Sprintf("ConfigureReason(%d)", int(r))
}

// ParseConfigureReason is the inverse of ConfigureReason.String. The empty
// string parses as ReasonUnknown.
func ParseConfigureReason(s string) (ConfigureReason, error) {
	if s == "" {
		return ReasonUnknown, nil
	}

	for i, name := range reasonNames {
		if name == s {
			return ConfigureReason(i), nil
		}
	}

	return ReasonUnknown, fmt.Errorf("unknown configure reason %q", s)
}

// ShutdownReason tells controllers how far a stop goes.
type ShutdownReason int

const (
	// StopSync pauses the unit and keeps its data.
	StopSync ShutdownReason = iota
	// DisableSync stops the unit and purges its data.
	DisableSync
	// ProcessShutdown stops the unit because the process exits.
	ProcessShutdown
)

func (r ShutdownReason) String() string {
	switch r {
	case StopSync:
		return "stop_sync"
	case DisableSync:
		return "disable_sync"
	case ProcessShutdown:
		return "process_shutdown"
	default:
		return fmt.Sprintf("ShutdownReason(%d)", int(r))
	}
}

// Purges reports whether units must discard their persisted state.
func (r ShutdownReason) Purges() bool {
	return r == DisableSync
}

// ParseShutdownReason is the inverse of ShutdownReason.String.
func ParseShutdownReason(s string) (ShutdownReason, error) {
	for _, r := range []ShutdownReason{StopSync, DisableSync, ProcessShutdown} {
		if r.String() == s {
			return r, nil
		}
	}

	return StopSync, fmt.Errorf("unknown shutdown reason %q", s)
}

// ConfigureContext travels with a configuration request and is handed to
// every Start of the pass.
type ConfigureContext struct {
	Reason ConfigureReason
	// CacheGUID is the caller's authoritative cache guard token. Controllers
	// refuse to start against a cache they do not own.
	CacheGUID string

	// Fingerprint and PassID are filled in by the orchestrator when the pass
	// starts. Fingerprint identifies the desired set and pass sequence, so a
	// controller can tell a stale start from the latest one.
	Fingerprint uint64
	PassID      string
}
