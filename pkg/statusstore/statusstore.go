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

// Package statusstore persists the orchestrator's status table.
package statusstore

import (
	"context"
	"maps"
	"sync"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statustable"
)

// Store loads and saves status table snapshots.
type Store interface {
	Load(ctx context.Context) (statustable.Snapshot, error)
	Save(ctx context.Context, snapshot statustable.Snapshot) error
	Close() error
}

// Memory keeps the last saved snapshot in memory.
type Memory struct {
	snapshot statustable.Snapshot
	saves    int
	mu       sync.Mutex
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{snapshot: statustable.Snapshot{}}
}

func (m *Memory) Load(ctx context.Context) (statustable.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.snapshot), nil
}

func (m *Memory) Save(ctx context.Context, snapshot statustable.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = maps.Clone(snapshot)
	if m.snapshot == nil {
		m.snapshot = statustable.Snapshot{}
	}

	m.saves++

	return nil
}

// Saves returns how often Save succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saves
}

func (m *Memory) Close() error {
	return nil
}
