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
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/metrics"
)

// Orchestrator events
const (
	EventConfigure       = "configure"
	EventSupersede       = "supersede"
	EventConfigureDone   = "configure_done"
	EventConfigureFailed = "configure_failed"
	EventStop            = "stop"
	EventStopDone        = "stop_done"
)

// machine is the orchestrator-level state machine. Once a pass has been
// superseded, the passes that follow run in RETRYING until one settles.
type machine struct {
	fsm    *fsm.FSM
	logger *zap.SugaredLogger
}

func newMachine(logger *zap.SugaredLogger) *machine {
	m := &machine{logger: logger}

	m.fsm = fsm.NewFSM(
		string(StateStopped),
		fsm.Events{
			{Name: EventConfigure, Src: []string{string(StateStopped), string(StateConfigured)}, Dst: string(StateConfiguring)},
			{Name: EventSupersede, Src: []string{string(StateConfiguring)}, Dst: string(StateRetrying)},
			{Name: EventConfigureDone, Src: []string{string(StateConfiguring), string(StateRetrying)}, Dst: string(StateConfigured)},
			{Name: EventConfigureFailed, Src: []string{string(StateConfiguring), string(StateRetrying)}, Dst: string(StateStopped)},
			{
				Name: EventStop,
				Src: []string{
					string(StateStopped),
					string(StateConfiguring),
					string(StateRetrying),
					string(StateConfigured),
				},
				Dst: string(StateStopping),
			},
			{Name: EventStopDone, Src: []string{string(StateStopping)}, Dst: string(StateStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Infof("Orchestrator: %s -> %s (%s)", e.Src, e.Dst, e.Event)
				metrics.UpdateOrchestratorState(e.Dst)
			},
		},
	)

	metrics.UpdateOrchestratorState(string(StateStopped))

	return m
}

// fire applies event. The transitions are in-memory only, so no caller
// context is involved.
func (m *machine) fire(event string) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("orchestrator: event %s in state %s: %w", event, m.fsm.Current(), err)
	}

	return nil
}

func (m *machine) current() State {
	return State(m.fsm.Current())
}

func (m *machine) is(states ...State) bool {
	current := m.current()
	for _, s := range states {
		if current == s {
			return true
		}
	}

	return false
}
