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

package stallchecker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/metrics"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/sentry"
)

// StallChecker watches configuration passes and warns when one stays in
// flight longer than a threshold.
//
// The orchestrator enforces no timeouts: a controller whose Start or Stop
// never returns stalls its pass forever. The checker makes that visible
// through the log, a sentry warning and the pass_stalled_total_seconds
// metric. It never cancels anything.
//
// A background goroutine checks once per interval. Each stalled pass is
// reported once; the metric keeps growing for as long as the stall lasts.
type StallChecker struct {
	passStarted time.Time
	ctx         context.Context //nolint:containedctx // lifecycle of the background goroutine
	logger      *zap.SugaredLogger
	cancel      context.CancelFunc
	passID      string
	wg          sync.WaitGroup
	threshold   time.Duration
	interval    time.Duration
	lastCheck   time.Time
	reported    bool
	mutex       sync.RWMutex
	stopOnce    sync.Once
}

// New creates a stall checker and starts its background goroutine.
// Stop must be called when the checker is no longer needed.
func New(threshold time.Duration, logger *zap.SugaredLogger) *StallChecker {
	return newWithInterval(threshold, constants.StallCheckInterval, logger)
}

func newWithInterval(threshold, interval time.Duration, logger *zap.SugaredLogger) *StallChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StallChecker{
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	checker.wg.Add(1)

	go checker.checkLoop()

	checker.logger.Debugf("Stall checker created with threshold %s", threshold)

	return checker
}

func (s *StallChecker) checkLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.check(now)
		}
	}
}

func (s *StallChecker) check(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.passID == "" {
		return
	}

	inFlight := now.Sub(s.passStarted)
	if inFlight <= s.threshold {
		return
	}

	// Only count the part of the stall not yet counted.
	from := s.passStarted.Add(s.threshold)
	if s.lastCheck.After(from) {
		from = s.lastCheck
	}

	metrics.AddStalledTime(now.Sub(from).Seconds())
	s.lastCheck = now

	if !s.reported {
		s.reported = true
		sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger,
			"configuration pass %s in flight for %.0f seconds; a unit controller is not completing its start or stop",
			s.passID, inFlight.Seconds())
	}
}

// PassStarted marks the beginning of a configuration pass.
func (s *StallChecker) PassStarted(passID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.passID = passID
	s.passStarted = time.Now()
	s.lastCheck = time.Time{}
	s.reported = false
}

// PassSettled marks the end of the current pass.
func (s *StallChecker) PassSettled() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.reported {
		s.logger.Infof("Configuration pass %s settled after %s", s.passID, time.Since(s.passStarted).Round(time.Millisecond))
	}

	s.passID = ""
	s.reported = false
}

// InFlight returns the current pass and for how long it has been running.
func (s *StallChecker) InFlight() (string, time.Duration) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.passID == "" {
		return "", 0
	}

	return s.passID, time.Since(s.passStarted)
}

// Stalled reports whether the current pass is past the threshold.
func (s *StallChecker) Stalled() bool {
	_, d := s.InFlight()

	return d > s.threshold
}

// Stop terminates the background goroutine. It is safe to call more than once.
func (s *StallChecker) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.logger.Debug("Stall checker stopped")
	})
}
