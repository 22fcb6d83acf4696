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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/api"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/config"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/env"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/logger"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/metrics"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/orchestrator"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/preferences"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/sentry"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statusstore"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statusstore/sqlite"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/units/process"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/version"
)

const (
	// envDesired seeds the desired set when no preferences file is used.
	envDesired          = "ORCHESTRATOR_DESIRED"
	envSentryDebounce   = "SENTRY_DEBOUNCE_ERRORS"
	stoppedPollInterval = 100 * time.Millisecond
)

func run(parent context.Context, opts runOptions) error {
	if opts.logLevel != "" {
		logger.SetLevel(opts.logLevel)
	}

	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting orchestratord %s", version.GetAppVersion())

	cfg, err := config.LoadWithEnvOverrides(opts.configPath, logger.For(logger.ComponentConfigManager))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %w", err)

		return err
	}

	if opts.metricsAddr != "" {
		cfg.Agent.MetricsAddr = opts.metricsAddr
	}

	if opts.apiAddr != "" {
		cfg.Agent.APIAddr = opts.apiAddr
	}

	if opts.logLevel == "" && cfg.Agent.LogLevel != "" {
		logger.SetLevel(cfg.Agent.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", opts.configPath, err)
	}

	debounce, err := env.GetAsBool(envSentryDebounce, false, true)
	if err != nil {
		log.Warnf("Ignoring %s: %v", envSentryDebounce, err)

		debounce = true
	}

	sentry.InitSentry(version.GetAppVersion(), cfg.Agent.SentryDSN, debounce)

	sigCtx, stopSignals := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	store, err := openStatusStore(sigCtx, cfg.Agent.StatusStorePath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open status store: %w", err)

		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("Failed to close status store: %v", err)
		}
	}()

	orch, err := orchestrator.New(orchestrator.Config{
		Controllers:    newControllers(cfg.Units),
		Observer:       resultLogger(logger.For(logger.ComponentOrchestrator)),
		Store:          store,
		AuxiliaryUnit:  unit.ID(cfg.Agent.AuxiliaryUnit),
		StallThreshold: cfg.Agent.StallThreshold,
		Logger:         logger.For(logger.ComponentOrchestrator),
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	apiServer, err := api.NewServer(orch, cfg.Agent.APIAddr, opts.debug, logger.For(logger.ComponentAPI))
	if err != nil {
		return fmt.Errorf("create control API: %w", err)
	}

	metricsServer := metrics.SetupMetricsEndpoint(cfg.Agent.MetricsAddr)

	// Components keep running on runCtx while units are stopped after a
	// signal; runCtx is cancelled last.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return apiServer.Start(gctx) })

	if cfg.Agent.PreferencesPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Agent.PreferencesPath), 0o755); err != nil {
			cancelRun()

			return fmt.Errorf("create preferences directory: %w", err)
		}

		watcher := preferences.NewWatcher(cfg.Agent.PreferencesPath, func(p preferences.Preferences) {
			orch.Configure(p.Desired, p.Context)
		}, logger.For(logger.ComponentPreferences))

		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("preferences watcher: %w", err)
			}

			return nil
		})
	} else {
		seedDesired(orch, log)
	}

	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			log.Info("Shutdown requested, stopping units")
		case <-gctx.Done():
			log.Warn("A component exited, shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		orch.Stop(unit.StopSync)

		if err := awaitStopped(shutdownCtx, gctx, orch); err != nil {
			log.Warnf("Units did not stop in time: %v", err)
		}

		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Warnf("Failed to stop control API: %v", err)
		}

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to stop metrics endpoint: %v", err)
		}

		cancelRun()

		return nil
	})

	if err := g.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "orchestratord exited with error: %w", err)

		return err
	}

	log.Info("orchestratord stopped")

	return nil
}

func openStatusStore(ctx context.Context, path string) (statusstore.Store, error) {
	if path == "" {
		return statusstore.NewMemory(), nil
	}

	return sqlite.Open(ctx, path, logger.For(logger.ComponentStatusStore))
}

func newControllers(units []config.UnitConfig) []unit.Controller {
	controllers := make([]unit.Controller, 0, len(units))

	for _, u := range units {
		controllers = append(controllers, process.New(process.Config{
			ID:               unit.ID(u.ID),
			Command:          u.Command,
			Args:             u.Args,
			Env:              u.Env,
			DataDir:          u.DataDir,
			StartGracePeriod: u.StartGracePeriod,
			StopTimeout:      u.StopTimeout,
		}, logger.For(logger.ComponentProcessUnit).With("unit", u.ID)))
	}

	return controllers
}

// seedDesired applies ORCHESTRATOR_DESIRED once at startup.
func seedDesired(orch *orchestrator.Orchestrator, log *zap.SugaredLogger) {
	ids, err := env.GetAsList(envDesired, false)
	if err != nil {
		log.Warnf("Ignoring %s: %v", envDesired, err)

		return
	}

	if len(ids) == 0 {
		return
	}

	orch.Configure(unit.SetOf(ids...), unit.ConfigureContext{Reason: unit.ReasonExistingClient})
}

func resultLogger(log *zap.SugaredLogger) orchestrator.Observer {
	return orchestrator.ObserverFuncs{
		Done: func(result orchestrator.ConfigureResult) {
			switch result.Status {
			case orchestrator.ConfigureStatusUnrecoverableError:
				sentry.ReportIssuef(sentry.IssueTypeError, log,
					"configuration of %s is unrecoverable: %v", result.RequestedTypes, result.Err)
			case orchestrator.ConfigureStatusAborted:
				log.Infof("Configuration of %s aborted", result.RequestedTypes)
			default:
				log.Infof("Configuration of %s finished with %s", result.RequestedTypes, result.Status)
			}
		},
	}
}

// awaitStopped polls until the orchestrator reports STOPPED. It gives up
// when ctx expires or the orchestrator loop is gone.
func awaitStopped(ctx, loop context.Context, orch *orchestrator.Orchestrator) error {
	ticker := time.NewTicker(stoppedPollInterval)
	defer ticker.Stop()

	for {
		if orch.State() == orchestrator.StateStopped {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-loop.Done():
			return loop.Err()
		case <-ticker.C:
		}
	}
}
