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
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// ID identifies a unit type. IDs are ordered by their string value.
type ID string

// Set is an immutable set of unit IDs. The zero value is the empty set.
// Operations never modify their receiver.
type Set struct {
	ids map[ID]struct{}
}

// NewSet builds a set from ids, dropping duplicates.
func NewSet(ids ...ID) Set {
	s := Set{ids: make(map[ID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}

	return s
}

// SetOf builds a set from plain strings.
func SetOf(ids ...string) Set {
	s := Set{ids: make(map[ID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[ID(id)] = struct{}{}
	}

	return s
}

func (s Set) Has(id ID) bool {
	_, ok := s.ids[id]

	return ok
}

func (s Set) Len() int {
	return len(s.ids)
}

func (s Set) Empty() bool {
	return len(s.ids) == 0
}

// Slice returns the members in ascending order.
func (s Set) Slice() []ID {
	out := make([]ID, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}

	slices.Sort(out)

	return out
}

// Strings returns the members in ascending order as strings.
func (s Set) Strings() []string {
	ids := s.Slice()

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}

	return out
}

func (s Set) Union(other Set) Set {
	out := NewSet(s.Slice()...)
	for id := range other.ids {
		out.ids[id] = struct{}{}
	}

	return out
}

func (s Set) Difference(other Set) Set {
	out := NewSet()
	for id := range s.ids {
		if !other.Has(id) {
			out.ids[id] = struct{}{}
		}
	}

	return out
}

func (s Set) Intersection(other Set) Set {
	out := NewSet()
	for id := range s.ids {
		if other.Has(id) {
			out.ids[id] = struct{}{}
		}
	}

	return out
}

// Filter returns the members for which keep returns true.
func (s Set) Filter(keep func(ID) bool) Set {
	out := NewSet()
	for id := range s.ids {
		if keep(id) {
			out.ids[id] = struct{}{}
		}
	}

	return out
}

func (s Set) Equal(other Set) bool {
	if s.Len() != other.Len() {
		return false
	}

	for id := range s.ids {
		if !other.Has(id) {
			return false
		}
	}

	return true
}

// Fingerprint hashes the sorted members. Equal sets have equal fingerprints.
func (s Set) Fingerprint() uint64 {
	d := xxhash.New()
	for _, id := range s.Slice() {
		_, _ = d.WriteString(string(id))
		_, _ = d.Write([]byte{0})
	}

	return d.Sum64()
}

func (s Set) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}

	*s = SetOf(ids...)

	return nil
}
