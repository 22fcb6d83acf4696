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
	"sort"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// unitView is what the diff needs to know about a registered unit.
type unitView struct {
	state  unit.State
	usable bool
}

// plan is the work of one configuration pass. Stops are dispatched before
// starts. toStop and toStart are disjoint.
type plan struct {
	toStop  []unit.ID
	toStart []unit.ID
	// restart holds desired units that start once their stop has completed.
	// Each of them is either in toStop or already stopping.
	restart []unit.ID
}

func (p plan) empty() bool {
	return len(p.toStop) == 0 && len(p.toStart) == 0 && len(p.restart) == 0
}

// computePlan diffs the desired set against the current unit states.
// Units not in views are ignored.
func computePlan(desired unit.Set, views map[unit.ID]unitView) plan {
	ids := make([]unit.ID, 0, len(views))
	for id := range views {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var p plan

	for _, id := range ids {
		view := views[id]
		wanted := desired.Has(id) && view.usable

		switch view.state {
		case unit.StateRunning, unit.StateStarting:
			if !wanted {
				p.toStop = append(p.toStop, id)
			}
		case unit.StateStopping:
			if wanted {
				p.restart = append(p.restart, id)
			}
		case unit.StateFailed:
			switch {
			case wanted:
				// The error was cleared; go through NotRunning again.
				p.toStop = append(p.toStop, id)
				p.restart = append(p.restart, id)
			case !desired.Has(id):
				p.toStop = append(p.toStop, id)
			}
		case unit.StateNotRunning:
			if wanted {
				p.toStart = append(p.toStart, id)
			}
		}
	}

	return p
}
