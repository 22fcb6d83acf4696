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

// Package orchestrator brings a set of independently controlled units into
// a desired configuration.
//
// A single goroutine, started with Run, owns all state. Public operations
// enqueue a command for it and return immediately; controller Start and Stop
// calls run on goroutines of their own and post their completion back. Read
// operations are served from a snapshot that is published after every batch
// of commands, so they never wait for the owner goroutine.
//
// A configuration pass diffs the desired set against the unit states,
// dispatches stops before starts and waits until every dispatched operation
// has returned. A Configure that arrives while a pass is in flight
// supersedes it: the running pass finishes its operations, its result is
// dropped and a fresh pass for the newest desired set follows.
package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	internalfsm "github.com/united-manufacturing-hub/unit-orchestrator/internal/fsm"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/logger"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/stallchecker"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statustable"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// Config configures an Orchestrator.
type Config struct {
	// Controllers is the fixed set of units. IDs must be unique.
	Controllers []unit.Controller

	// Observer receives configuration notifications. Optional.
	Observer Observer

	// Store persists the status table. Optional.
	Store StatusStore

	// AuxiliaryUnit is the unit whose activity IsAuxiliaryFeatureEnabled
	// reports. Optional; if set it must be one of Controllers.
	AuxiliaryUnit unit.ID

	// StallThreshold is how long a pass may stay in flight before it is
	// reported as stalled. Zero uses the default, negative disables the check.
	StallThreshold time.Duration

	Logger *zap.SugaredLogger
}

type unitRecord struct {
	controller unit.Controller
	fsm        *internalfsm.UnitInstance

	// reason of the Stop in flight
	stopReason unit.ShutdownReason

	// stopAfterStart is set while Starting when a stop was requested.
	stopAfterStart *unit.ShutdownReason

	// restartAfterStop is set while Stopping when the current pass wants the
	// unit running again.
	restartAfterStop bool

	// purgeAfterStop is set while Stopping when a purging stop was requested
	// during a non-purging one.
	purgeAfterStop bool
}

type snapshot struct {
	state  State
	active unit.Set
	status statustable.Snapshot
	units  map[unit.ID]unit.State
}

// Orchestrator drives units towards a desired configuration.
type Orchestrator struct {
	cfg    Config
	logger *zap.SugaredLogger

	// Owned by the Run goroutine.
	units      map[unit.ID]*unitRecord
	ids        []unit.ID
	status     *statustable.Table
	machine    *machine
	reporter   *unitReporter
	stall      *stallchecker.StallChecker
	desired    unit.Set
	lastCtx    unit.ConfigureContext
	current    *pass
	pending    *configureRequest
	stopReason unit.ShutdownReason
	seq        uint64
	runCtx     context.Context //nolint:containedctx // handed to controller operations

	running atomic.Bool

	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}

	snapMu sync.RWMutex
	snap   snapshot
}

// New validates cfg and creates an orchestrator in STOPPED. Nothing happens
// until Run is called.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.For(logger.ComponentOrchestrator)
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   cfg.Logger,
		units:    make(map[unit.ID]*unitRecord, len(cfg.Controllers)),
		status:   statustable.New(),
		machine:  newMachine(cfg.Logger),
		reporter: newUnitReporter(constants.UnitReportDebounce, cfg.Logger),
		desired:  unit.NewSet(),
		wake:     make(chan struct{}, 1),
		runCtx:   context.Background(),
	}

	for i, controller := range cfg.Controllers {
		if controller == nil {
			return nil, fmt.Errorf("controller %d is nil", i)
		}

		id := controller.ID()
		if id == "" {
			return nil, fmt.Errorf("controller %d has an empty id", i)
		}

		if _, dup := o.units[id]; dup {
			return nil, fmt.Errorf("duplicate unit id %s", id)
		}

		o.units[id] = &unitRecord{
			controller: controller,
			fsm:        internalfsm.NewUnitInstance(id, cfg.Logger.With("unit", id)),
		}
		o.ids = append(o.ids, id)
	}

	sort.Slice(o.ids, func(i, j int) bool { return o.ids[i] < o.ids[j] })

	if cfg.AuxiliaryUnit != "" {
		if _, ok := o.units[cfg.AuxiliaryUnit]; !ok {
			return nil, fmt.Errorf("auxiliary unit %s: %w", cfg.AuxiliaryUnit, ErrUnknownUnit)
		}
	}

	o.publish()

	return o, nil
}

// Run processes commands until ctx is cancelled. Controller operations
// receive ctx as well. Run may only be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	o.runCtx = ctx
	o.restoreStatus(ctx)

	if o.cfg.StallThreshold >= 0 {
		threshold := o.cfg.StallThreshold
		if threshold == 0 {
			threshold = constants.DefaultStallThreshold
		}

		o.stall = stallchecker.New(threshold, o.logger)
		defer o.stall.Stop()
	}

	o.publish()
	o.logger.Infof("Orchestrator running with %d units", len(o.ids))

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Orchestrator loop stopped")

			return nil
		case <-o.wake:
			o.drain()
		}
	}
}

// post enqueues fn for the owner goroutine. It never blocks.
func (o *Orchestrator) post(fn func()) {
	o.queueMu.Lock()
	o.queue = append(o.queue, fn)
	o.queueMu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) drain() {
	for {
		o.queueMu.Lock()
		cmds := o.queue
		o.queue = nil
		o.queueMu.Unlock()

		if len(cmds) == 0 {
			break
		}

		for _, cmd := range cmds {
			cmd()
		}
	}

	o.persistStatus()
	o.publish()
}

// Configure requests that exactly the units in desired run. The result is
// delivered to the Observer.
func (o *Orchestrator) Configure(desired unit.Set, cctx unit.ConfigureContext) {
	o.post(func() {
		o.configure(&configureRequest{desired: desired, cctx: cctx, purge: unit.NewSet()})
	})
}

// Stop stops every unit. A configuration in flight is reported as ABORTED.
// DisableSync also clears the status table and makes units purge their data.
func (o *Orchestrator) Stop(reason unit.ShutdownReason) {
	o.post(func() { o.stop(reason) })
}

// ReenableType clears the recorded error of id and reconfigures if id is
// desired.
func (o *Orchestrator) ReenableType(id unit.ID) {
	o.post(func() { o.reenable(id) })
}

// ReadyForStartChanged tells the orchestrator that the result of id's
// IsReadyForStart may have changed.
func (o *Orchestrator) ReadyForStartChanged(id unit.ID) {
	o.post(func() { o.readyChanged(id) })
}

// ResetDataTypeErrors clears the status table. It does not reconfigure.
func (o *Orchestrator) ResetDataTypeErrors() {
	o.post(func() {
		o.status.ResetAll()
		o.logger.Info("Cleared all unit errors")
	})
}

// PurgeForMigration removes ids from the desired set and stops them with
// DisableSync so that they discard their data.
func (o *Orchestrator) PurgeForMigration(ids unit.Set) {
	o.post(func() { o.purgeForMigration(ids) })
}

func (o *Orchestrator) publish() {
	state := o.machine.current()

	units := make(map[unit.ID]unit.State, len(o.units))
	for id, rec := range o.units {
		units[id] = rec.fsm.Current()
	}

	active := unit.NewSet()
	if state == StateConfigured {
		active = o.activeOf(o.desired)
	}

	snap := snapshot{
		state:  state,
		active: active,
		status: o.status.Snapshot(),
		units:  units,
	}

	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()
}

func (o *Orchestrator) read() snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()

	return o.snap
}

// GetActiveDataTypes returns the desired units that are running and usable.
// It is empty unless the orchestrator is CONFIGURED.
func (o *Orchestrator) GetActiveDataTypes() unit.Set {
	return o.read().active
}

// IsAuxiliaryFeatureEnabled reports whether the auxiliary unit is active.
func (o *Orchestrator) IsAuxiliaryFeatureEnabled() bool {
	if o.cfg.AuxiliaryUnit == "" {
		return false
	}

	return o.read().active.Has(o.cfg.AuxiliaryUnit)
}

func (o *Orchestrator) State() State {
	return o.read().state
}

// StatusTable returns a copy of the per-unit error table.
func (o *Orchestrator) StatusTable() statustable.Snapshot {
	return maps.Clone(o.read().status)
}

// UnitStates returns the lifecycle state of every unit.
func (o *Orchestrator) UnitStates() map[unit.ID]unit.State {
	return maps.Clone(o.read().units)
}

// Units returns the ids of all registered units.
func (o *Orchestrator) Units() unit.Set {
	return unit.NewSet(o.ids...)
}
