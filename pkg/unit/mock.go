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

package unit

import (
	"context"
	"sync"
)

// MockController is a Controller for tests. Start and Stop can be held open
// with BlockStart/BlockStop, and the mock records whether two operations
// ever overlapped.
type MockController struct {
	id ID

	mu sync.Mutex

	ready    bool
	startErr error
	stopErr  error

	startGate chan struct{}
	stopGate  chan struct{}

	startCalls  int
	stopCalls   int
	stopReasons []ShutdownReason
	lastContext ConfigureContext

	inFlight   int
	overlapped bool
	running    bool
}

var _ Controller = (*MockController)(nil)

// NewMockController returns a mock that is ready and starts successfully.
func NewMockController(id ID) *MockController {
	return &MockController{id: id, ready: true}
}

func (m *MockController) ID() ID {
	return m.id
}

func (m *MockController) Start(ctx context.Context, cfg ConfigureContext) error {
	m.mu.Lock()
	m.startCalls++
	m.lastContext = cfg
	m.enter()
	gate, err := m.startGate, m.startErr
	m.mu.Unlock()

	wait(ctx, gate)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight--
	m.running = err == nil

	return err
}

func (m *MockController) Stop(ctx context.Context, reason ShutdownReason) error {
	m.mu.Lock()
	m.stopCalls++
	m.stopReasons = append(m.stopReasons, reason)
	m.enter()
	gate, err := m.stopGate, m.stopErr
	m.mu.Unlock()

	wait(ctx, gate)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight--
	m.running = false

	return err
}

func (m *MockController) IsReadyForStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ready
}

// enter must be called with mu held.
func (m *MockController) enter() {
	m.inFlight++
	if m.inFlight > 1 {
		m.overlapped = true
	}
}

func wait(ctx context.Context, gate chan struct{}) {
	if gate == nil {
		return
	}

	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func (m *MockController) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ready = ready
}

// SetStartError makes subsequent starts fail with err. nil restores success.
func (m *MockController) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startErr = err
}

func (m *MockController) SetStopError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopErr = err
}

// BlockStart holds every following Start open until release is called.
func (m *MockController) BlockStart() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gate := make(chan struct{})
	m.startGate = gate

	return m.releaser(gate, &m.startGate)
}

// BlockStop holds every following Stop open until release is called.
func (m *MockController) BlockStop() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gate := make(chan struct{})
	m.stopGate = gate

	return m.releaser(gate, &m.stopGate)
}

func (m *MockController) releaser(gate chan struct{}, slot *chan struct{}) func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			m.mu.Lock()
			if *slot == gate {
				*slot = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *MockController) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.startCalls
}

func (m *MockController) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopCalls
}

func (m *MockController) StopReasons() []ShutdownReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]ShutdownReason(nil), m.stopReasons...)
}

// LastConfigureContext returns the context of the most recent Start.
func (m *MockController) LastConfigureContext() ConfigureContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastContext
}

// Overlapped reports whether Start and Stop ever ran at the same time.
func (m *MockController) Overlapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.overlapped
}

func (m *MockController) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running
}
