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
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

var (
	// ErrConfigurationAborted is the error carried by ABORTED results.
	ErrConfigurationAborted = errors.New("configuration aborted by stop")

	// ErrUnitNotReady is recorded for desired units whose controller is not
	// ready to start.
	ErrUnitNotReady = errors.New("unit is not ready for start")

	ErrUnknownUnit = errors.New("unknown unit")

	ErrAlreadyRunning = errors.New("orchestrator is already running")
)

// UnitStartError wraps a failed Start.
type UnitStartError struct {
	ID   unit.ID
	Kind unit.ErrorKind
	Err  error
}

func (e *UnitStartError) Error() string {
	return fmt.Sprintf("start of unit %s failed (%s): %v", e.ID, e.Kind, e.Err)
}

func (e *UnitStartError) Unwrap() error {
	return e.Err
}

// UnrecoverableConfigurationError is the error carried by
// UNRECOVERABLE_ERROR results.
type UnrecoverableConfigurationError struct {
	Desired unit.Set
	Failed  unit.Set
	Reason  string
}

func (e *UnrecoverableConfigurationError) Error() string {
	if e.Failed.Empty() {
		return fmt.Sprintf("configuration of %s failed: %s", e.Desired, e.Reason)
	}

	return fmt.Sprintf("configuration of %s failed: %s (failed units: %s)", e.Desired, e.Reason, e.Failed)
}
