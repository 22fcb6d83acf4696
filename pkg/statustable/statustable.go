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

// Package statustable records which units are unusable and why.
//
// A unit with an entry is unusable until the entry is reset; entries survive
// reconfiguration so that a failing unit is not started over and over. The
// table has no locking of its own. It is owned by the orchestrator's owner
// goroutine, and everything handed out is a copy (Snapshot).
package statustable

import (
	"maps"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// Entry is the last terminal error of a unit.
type Entry struct {
	Kind    unit.ErrorKind `json:"kind"`
	Message string         `json:"message"`
}

// Table maps unit IDs to their last error. Units without an entry are usable.
type Table struct {
	entries map[unit.ID]Entry
	dirty   bool
}

func New() *Table {
	return &Table{entries: make(map[unit.ID]Entry)}
}

// RecordError marks id unusable. A later error replaces an earlier one,
// except that an Unready error never replaces another kind.
func (t *Table) RecordError(id unit.ID, kind unit.ErrorKind, err error) {
	entry := Entry{Kind: kind, Message: kind.String()}
	if err != nil {
		entry.Message = err.Error()
	}

	old, ok := t.entries[id]
	if ok && (old == entry || (kind == unit.ErrorKindUnready && old.Kind != unit.ErrorKindUnready)) {
		return
	}

	t.entries[id] = entry
	t.dirty = true
}

// Reset clears the entry for id and reports whether there was one. It does
// not start anything.
func (t *Table) Reset(id unit.ID) bool {
	if _, ok := t.entries[id]; !ok {
		return false
	}

	delete(t.entries, id)
	t.dirty = true

	return true
}

// ResetIfKind clears the entry for id only when it has the given kind.
func (t *Table) ResetIfKind(id unit.ID, kind unit.ErrorKind) bool {
	if entry, ok := t.entries[id]; !ok || entry.Kind != kind {
		return false
	}

	return t.Reset(id)
}

// ResetAll clears every entry.
func (t *Table) ResetAll() {
	if len(t.entries) == 0 {
		return
	}

	t.entries = make(map[unit.ID]Entry)
	t.dirty = true
}

func (t *Table) IsUsable(id unit.ID) bool {
	_, ok := t.entries[id]

	return !ok
}

// Lookup returns the entry of id, if any.
func (t *Table) Lookup(id unit.ID) (Entry, bool) {
	entry, ok := t.entries[id]

	return entry, ok
}

// Unusable returns every unit with an entry.
func (t *Table) Unusable() unit.Set {
	ids := make([]unit.ID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}

	return unit.NewSet(ids...)
}

// Snapshot returns a copy of the table. Entries are plain values, so the
// copy shares nothing with the table.
func (t *Table) Snapshot() Snapshot {
	out := make(Snapshot, len(t.entries))
	maps.Copy(out, t.entries)

	return out
}

// Restore replaces the table's content with a previously taken snapshot.
// The table is not dirty afterwards.
func (t *Table) Restore(s Snapshot) {
	t.entries = make(map[unit.ID]Entry, len(s))
	maps.Copy(t.entries, s)

	t.dirty = false
}

// Dirty reports whether the table changed since the last ClearDirty.
func (t *Table) Dirty() bool {
	return t.dirty
}

func (t *Table) ClearDirty() {
	t.dirty = false
}

// Snapshot is a detached copy of a Table, safe to share.
type Snapshot map[unit.ID]Entry

func (s Snapshot) IsUsable(id unit.ID) bool {
	_, ok := s[id]

	return !ok
}

// Status returns the last error kind of id and whether id is usable.
func (s Snapshot) Status(id unit.ID) (unit.ErrorKind, bool) {
	entry, ok := s[id]
	if !ok {
		return unit.ErrorKindUnset, true
	}

	return entry.Kind, false
}
