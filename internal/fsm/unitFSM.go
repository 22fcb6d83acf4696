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
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/metrics"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// UnitInstance tracks the lifecycle state of one unit.
// It only records states; dispatching Start and Stop is the orchestrator's job.
type UnitInstance struct {
	id unit.ID

	// fsm is the finite state machine that manages the unit state
	fsm *fsm.FSM

	// Registered "enter_<state>" callbacks
	callbacks map[string]fsm.Callback

	logger *zap.SugaredLogger
}

// NewUnitInstance creates a unit in NotRunning.
func NewUnitInstance(id unit.ID, logger *zap.SugaredLogger) *UnitInstance {
	instance := &UnitInstance{
		id:        id,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	instance.fsm = fsm.NewFSM(
		string(unit.StateNotRunning),
		unitTransitions(),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				instance.logger.Debugf("Unit %s: %s -> %s (%s)", instance.id, e.Src, e.Dst, e.Event)
				metrics.UpdateUnitState(string(instance.id), e.Dst)

				if cb, ok := instance.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	metrics.UpdateUnitState(string(id), string(unit.StateNotRunning))

	return instance
}

// AddCallback registers a callback under "enter_<state>".
// Callbacks must not send events to the same instance.
func (u *UnitInstance) AddCallback(name string, callback fsm.Callback) {
	u.callbacks[name] = callback
}

// SendEvent fires a lifecycle event. Events that are not allowed in the
// current state return an error and leave the state unchanged.
func (u *UnitInstance) SendEvent(ctx context.Context, event string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := u.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("unit %s: event %s in state %s: %w", u.id, event, u.fsm.Current(), err)
	}

	return nil
}

// Can reports whether event is allowed in the current state.
func (u *UnitInstance) Can(event string) bool {
	return u.fsm.Can(event)
}

func (u *UnitInstance) Current() unit.State {
	return unit.State(u.fsm.Current())
}

func (u *UnitInstance) Is(state unit.State) bool {
	return u.fsm.Is(string(state))
}

// SetCurrentState forces a state without running callbacks.
// This should only be called in tests.
func (u *UnitInstance) SetCurrentState(state unit.State) {
	u.fsm.SetState(string(state))
}

func (u *UnitInstance) ID() unit.ID {
	return u.id
}
