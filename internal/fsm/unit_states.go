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

package fsm

import (
	"github.com/looplab/fsm"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// Unit lifecycle events.
const (
	// EventStart is sent right before the controller's Start is dispatched.
	EventStart = "start"
	// EventStartDone is sent when Start returned nil.
	EventStartDone = "start_done"
	// EventStartFailed is sent when Start returned an error.
	EventStartFailed = "start_failed"
	// EventStop is sent right before the controller's Stop is dispatched.
	EventStop = "stop"
	// EventStopDone is sent when Stop returned.
	EventStopDone = "stop_done"
)

// unitTransitions is the complete unit lifecycle. Starting cannot be
// stopped directly: the orchestrator waits for Start to return first.
// NotRunning may be stopped so that a full shutdown reaches every unit.
func unitTransitions() fsm.Events {
	return fsm.Events{
		{Name: EventStart, Src: []string{string(unit.StateNotRunning)}, Dst: string(unit.StateStarting)},
		{Name: EventStartDone, Src: []string{string(unit.StateStarting)}, Dst: string(unit.StateRunning)},
		{Name: EventStartFailed, Src: []string{string(unit.StateStarting)}, Dst: string(unit.StateFailed)},
		{
			Name: EventStop,
			Src: []string{
				string(unit.StateNotRunning),
				string(unit.StateRunning),
				string(unit.StateFailed),
			},
			Dst: string(unit.StateStopping),
		},
		{Name: EventStopDone, Src: []string{string(unit.StateStopping)}, Dst: string(unit.StateNotRunning)},
	}
}

// IsBusy reports whether a controller operation is in flight in state.
func IsBusy(state unit.State) bool {
	return state == unit.StateStarting || state == unit.StateStopping
}
