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
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/sentry"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// unitReporter forwards unit failures to sentry at most once per unit and
// operation within the debounce window. Suppressed failures are still logged.
type unitReporter struct {
	reported *expiremap.ExpireMap[string, time.Time]
	logger   *zap.SugaredLogger
}

func newUnitReporter(window time.Duration, logger *zap.SugaredLogger) *unitReporter {
	return &unitReporter{
		reported: expiremap.NewEx[string, time.Time](window, window),
		logger:   logger,
	}
}

func (r *unitReporter) report(id unit.ID, operation string, err error) {
	key := string(id) + "/" + operation

	if first, ok := r.reported.Load(key); ok {
		r.logger.Warnw("Unit operation failed again", "unit", id, "operation", operation,
			"error", err, "firstReported", *first)

		return
	}

	r.reported.Set(key, time.Now())
	sentry.ReportUnitError(r.logger, string(id), operation, err)
}
