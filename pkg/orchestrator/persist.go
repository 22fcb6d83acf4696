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

	"github.com/cenkalti/backoff/v4"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/sentry"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statustable"
)

const restoreAttempts = 3

// restoreStatus loads the persisted status table. Failing to load is not
// fatal: the orchestrator starts with an empty table.
func (o *Orchestrator) restoreStatus(ctx context.Context) {
	if o.cfg.Store == nil {
		return
	}

	var restored statustable.Snapshot

	load := func() error {
		loadCtx, cancel := context.WithTimeout(ctx, constants.StatusStoreTimeout)
		defer cancel()

		snap, err := o.cfg.Store.Load(loadCtx)
		if err != nil {
			o.logger.Debugf("Loading unit status failed: %v", err)

			return err
		}

		restored = snap

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), restoreAttempts), ctx)
	if err := backoff.Retry(load, policy); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, o.logger,
			"could not restore unit status, starting with an empty table: %v", err)

		return
	}

	o.status.Restore(restored)
	o.logger.Infof("Restored status of %d units", len(restored))
}

// persistStatus writes the status table if it changed. On failure the table
// stays dirty and the write is retried after the next command.
func (o *Orchestrator) persistStatus() {
	if o.cfg.Store == nil || !o.status.Dirty() {
		return
	}

	ctx, cancel := context.WithTimeout(o.runCtx, constants.StatusStoreTimeout)
	defer cancel()

	if err := o.cfg.Store.Save(ctx, o.status.Snapshot()); err != nil {
		o.logger.Warnf("Failed to persist unit status: %v", err)

		return
	}

	o.status.ClearDirty()
}
