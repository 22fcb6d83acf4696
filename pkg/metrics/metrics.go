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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/logger"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/sentry"
)

const (
	// Component labels.
	ComponentOrchestrator = "orchestrator"
	ComponentStatusStore  = "status_store"
	ComponentPreferences  = "preferences"
	ComponentProcessUnit  = "process_unit"
	ComponentAPI          = "api"
)

var (
	namespace = "umh"
	subsystem = "orchestrator"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	configureDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "configure_duration_milliseconds",
			Help:      "Time from the start of a configuration pass until its result was delivered (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"status"},
	)

	configureResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "configure_results_total",
			Help:      "Delivered configuration results by status",
		},
		[]string{"status"},
	)

	configureSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "configure_superseded_total",
			Help:      "Configuration passes whose result was discarded because a newer request arrived",
		},
	)

	unitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unit_state",
			Help:      "Current state of the unit (0=NotRunning, 1=Starting, 2=Running, 3=Stopping, 4=Failed, -1=Unknown)",
		},
		[]string{"unit"},
	)

	unitStartFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unit_start_failures_total",
			Help:      "Failed unit starts by unit and error kind",
		},
		[]string{"unit", "kind"},
	)

	orchestratorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current orchestrator state (0=Stopped, 1=Configuring, 2=Retrying, 3=Configured, 4=Stopping, -1=Unknown)",
		},
	)

	stalledSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pass_stalled_total_seconds",
			Help:      "Total seconds configuration passes spent beyond the stall threshold",
		},
	)
)

// SetupMetricsEndpoint starts serving /metrics on addr in the background.
// The caller owns the returned server and must shut it down.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log := logger.For(logger.ComponentCore)
		log.Infof("Starting metrics endpoint on %s", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "metrics endpoint failed: %w", err)
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// ObserveConfigureResult records a delivered configuration result.
func ObserveConfigureResult(status string, duration time.Duration) {
	configureResults.WithLabelValues(status).Inc()
	configureDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncSuperseded counts a configuration pass whose result was discarded.
func IncSuperseded() {
	configureSuperseded.Inc()
}

// IncUnitStartFailure counts a failed unit start.
func IncUnitStartFailure(unit, kind string) {
	unitStartFailures.WithLabelValues(unit, kind).Inc()
}

// UpdateUnitState publishes the lifecycle state of a unit.
func UpdateUnitState(unit, state string) {
	unitState.WithLabelValues(unit).Set(unitStateValue(state))
}

// UpdateOrchestratorState publishes the top-level orchestrator state.
func UpdateOrchestratorState(state string) {
	orchestratorState.Set(orchestratorStateValue(state))
}

// AddStalledTime increases the stall counter by the specified seconds.
func AddStalledTime(seconds float64) {
	stalledSeconds.Add(seconds)
}

func unitStateValue(state string) float64 {
	switch state {
	case "not_running":
		return 0
	case "starting":
		return 1
	case "running":
		return 2
	case "stopping":
		return 3
	case "failed":
		return 4
	default:
		return -1
	}
}

func orchestratorStateValue(state string) float64 {
	switch state {
	case "STOPPED":
		return 0
	case "CONFIGURING":
		return 1
	case "RETRYING":
		return 2
	case "CONFIGURED":
		return 3
	case "STOPPING":
		return 4
	default:
		return -1
	}
}
