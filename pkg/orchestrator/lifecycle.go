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
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	internalfsm "github.com/united-manufacturing-hub/unit-orchestrator/internal/fsm"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/metrics"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// Everything in this file runs on the owner goroutine.

type configureRequest struct {
	desired unit.Set
	cctx    unit.ConfigureContext
	// purge is stopped with DisableSync before the diff.
	purge unit.Set
}

type pass struct {
	id      string
	req     *configureRequest
	cctx    unit.ConfigureContext
	started time.Time

	superseded bool
	failure    *UnrecoverableConfigurationError
	tornDown   bool
}

// passFingerprint identifies the desired set and the pass that carries it.
func passFingerprint(desired unit.Set, seq uint64) uint64 {
	var buf [16]byte

	binary.LittleEndian.PutUint64(buf[:8], desired.Fingerprint())
	binary.LittleEndian.PutUint64(buf[8:], seq)

	return xxhash.Sum64(buf[:])
}

// latestDesired is the desired set of the newest request, queued or not.
func (o *Orchestrator) latestDesired() unit.Set {
	if o.pending != nil {
		return o.pending.desired
	}

	return o.desired
}

func (o *Orchestrator) configure(req *configureRequest) {
	switch o.machine.current() {
	case StateStopping:
		o.enqueue(req)
		o.logger.Infof("Configuration of %s queued until the stop completes", req.desired)
	case StateConfiguring, StateRetrying:
		o.enqueue(req)

		if o.current.superseded {
			return
		}

		o.current.superseded = true
		for _, rec := range o.units {
			rec.restartAfterStop = false
		}

		if o.machine.is(StateConfiguring) {
			if err := o.machine.fire(EventSupersede); err != nil {
				o.logger.Errorf("Failed to mark pass as superseded: %v", err)
			}
		}

		o.logger.Infof("Pass %s superseded by configuration of %s", o.current.id, req.desired)
	default:
		if err := o.machine.fire(EventConfigure); err != nil {
			o.logger.Errorf("Failed to start configuration: %v", err)

			return
		}

		o.startPass(req)
	}
}

// enqueue makes req the next configuration. A request it replaces hands over
// its purge set.
func (o *Orchestrator) enqueue(req *configureRequest) {
	if o.pending != nil {
		req.purge = req.purge.Union(o.pending.purge)
	}

	o.pending = req
}

func (o *Orchestrator) startPass(req *configureRequest) {
	o.seq++

	p := &pass{
		id:      uuid.NewString(),
		req:     req,
		cctx:    req.cctx,
		started: time.Now(),
	}
	p.cctx.PassID = p.id
	p.cctx.Fingerprint = passFingerprint(req.desired, o.seq)

	o.current = p
	o.desired = req.desired
	o.lastCtx = req.cctx

	if o.stall != nil {
		o.stall.PassStarted(p.id)
	}

	o.logger.Infow("Configuration pass started",
		"pass", p.id, "desired", req.desired.String(), "reason", req.cctx.Reason.String())

	if o.cfg.Observer != nil {
		o.cfg.Observer.OnConfigureStart()
	}

	unknown := req.desired.Filter(func(id unit.ID) bool {
		_, ok := o.units[id]

		return !ok
	})
	if !unknown.Empty() {
		p.failure = &UnrecoverableConfigurationError{
			Desired: req.desired,
			Failed:  unknown,
			Reason:  "no controller registered",
		}
		o.settle()

		return
	}

	for _, id := range req.purge.Slice() {
		if rec, ok := o.units[id]; ok {
			o.requestStop(rec, unit.DisableSync)
		}
	}

	o.refreshReadiness(req.desired)

	pl := computePlan(req.desired, o.views())
	if !pl.empty() {
		o.logger.Debugw("Pass plan", "pass", p.id, "stop", pl.toStop, "start", pl.toStart, "restart", pl.restart)
	}

	for _, id := range pl.restart {
		o.units[id].restartAfterStop = true
	}

	for _, id := range pl.toStop {
		o.requestStop(o.units[id], unit.StopSync)
	}

	for _, id := range pl.toStart {
		o.dispatchStart(o.units[id], p.cctx)
	}

	o.settle()
}

// refreshReadiness records desired units that cannot start as Unready and
// clears that error for those that can again.
func (o *Orchestrator) refreshReadiness(desired unit.Set) {
	for _, id := range desired.Slice() {
		rec := o.units[id]

		if rec.controller.IsReadyForStart() {
			if o.status.ResetIfKind(id, unit.ErrorKindUnready) {
				o.logger.Infof("Unit %s is ready again", id)
			}

			continue
		}

		o.status.RecordError(id, unit.ErrorKindUnready, ErrUnitNotReady)
	}
}

func (o *Orchestrator) views() map[unit.ID]unitView {
	views := make(map[unit.ID]unitView, len(o.units))
	for id, rec := range o.units {
		views[id] = unitView{state: rec.fsm.Current(), usable: o.status.IsUsable(id)}
	}

	return views
}

func (o *Orchestrator) activeOf(desired unit.Set) unit.Set {
	return desired.Filter(func(id unit.ID) bool {
		rec, ok := o.units[id]

		return ok && rec.fsm.Is(unit.StateRunning) && o.status.IsUsable(id)
	})
}

func (o *Orchestrator) busy() bool {
	for _, rec := range o.units {
		if internalfsm.IsBusy(rec.fsm.Current()) {
			return true
		}
	}

	return false
}

func (o *Orchestrator) dispatchStart(rec *unitRecord, cctx unit.ConfigureContext) {
	if err := rec.fsm.SendEvent(context.Background(), internalfsm.EventStart); err != nil {
		o.logger.Errorf("Cannot start unit: %v", err)

		return
	}

	ctx, controller := o.runCtx, rec.controller

	go func() {
		err := controller.Start(ctx, cctx)
		o.post(func() { o.onStartDone(rec, err) })
	}()
}

func (o *Orchestrator) dispatchStop(rec *unitRecord, reason unit.ShutdownReason) {
	if err := rec.fsm.SendEvent(context.Background(), internalfsm.EventStop); err != nil {
		o.logger.Errorf("Cannot stop unit: %v", err)

		return
	}

	rec.stopReason = reason
	ctx, controller := o.runCtx, rec.controller

	go func() {
		err := controller.Stop(ctx, reason)
		o.post(func() { o.onStopDone(rec, reason, err) })
	}()
}

// requestStop stops rec as soon as no other operation is in flight for it.
func (o *Orchestrator) requestStop(rec *unitRecord, reason unit.ShutdownReason) {
	switch rec.fsm.Current() {
	case unit.StateStarting:
		if rec.stopAfterStart == nil || reason.Purges() {
			rec.stopAfterStart = &reason
		}
	case unit.StateStopping:
		if reason.Purges() && !rec.stopReason.Purges() {
			rec.purgeAfterStop = true
		}
	default:
		o.dispatchStop(rec, reason)
	}
}

func (o *Orchestrator) onStartDone(rec *unitRecord, err error) {
	id := rec.controller.ID()

	if err == nil {
		if sendErr := rec.fsm.SendEvent(context.Background(), internalfsm.EventStartDone); sendErr != nil {
			o.logger.Errorf("Unit state out of sync: %v", sendErr)
		}

		o.logger.Infof("Unit %s started", id)
	} else {
		kind := unit.KindOf(err)
		startErr := &UnitStartError{ID: id, Kind: kind, Err: err}

		o.status.RecordError(id, kind, err)

		if sendErr := rec.fsm.SendEvent(context.Background(), internalfsm.EventStartFailed); sendErr != nil {
			o.logger.Errorf("Unit state out of sync: %v", sendErr)
		}

		metrics.IncUnitStartFailure(string(id), kind.String())
		o.reporter.report(id, "start", startErr)

		if p := o.current; kind == unit.ErrorKindUnrecoverable && p != nil && !p.superseded && p.failure == nil {
			p.failure = &UnrecoverableConfigurationError{
				Desired: p.req.desired,
				Failed:  unit.NewSet(id),
				Reason:  startErr.Error(),
			}
		}
	}

	if rec.stopAfterStart != nil {
		reason := *rec.stopAfterStart
		rec.stopAfterStart = nil
		o.dispatchStop(rec, reason)
	}

	o.settle()
}

func (o *Orchestrator) onStopDone(rec *unitRecord, reason unit.ShutdownReason, err error) {
	id := rec.controller.ID()

	if sendErr := rec.fsm.SendEvent(context.Background(), internalfsm.EventStopDone); sendErr != nil {
		o.logger.Errorf("Unit state out of sync: %v", sendErr)
	}

	if err != nil {
		o.reporter.report(id, "stop", err)
	} else {
		o.logger.Infof("Unit %s stopped (%s)", id, reason)
	}

	switch {
	case rec.purgeAfterStop:
		rec.purgeAfterStop = false
		rec.restartAfterStop = false
		o.dispatchStop(rec, unit.DisableSync)
	case rec.restartAfterStop:
		rec.restartAfterStop = false
		o.restart(rec)
	}

	o.settle()
}

// restart starts rec again for the current pass once its stop completed.
func (o *Orchestrator) restart(rec *unitRecord) {
	id := rec.controller.ID()

	p := o.current
	if p == nil || p.superseded || p.failure != nil || !p.req.desired.Has(id) {
		return
	}

	if !rec.controller.IsReadyForStart() {
		o.status.RecordError(id, unit.ErrorKindUnready, ErrUnitNotReady)

		return
	}

	if !o.status.IsUsable(id) {
		return
	}

	o.dispatchStart(rec, p.cctx)
}

// settle finishes the pass or the stop once no operation is in flight.
func (o *Orchestrator) settle() {
	if o.busy() {
		return
	}

	if o.current != nil {
		o.finishPass()

		return
	}

	if o.machine.is(StateStopping) {
		o.finishStop()
	}
}

func (o *Orchestrator) passSettled() {
	o.current = nil

	if o.stall != nil {
		o.stall.PassSettled()
	}
}

func (o *Orchestrator) finishPass() {
	p := o.current

	if p.superseded {
		o.passSettled()
		metrics.IncSuperseded()
		o.logger.Infof("Superseded pass %s settled after %s", p.id, time.Since(p.started).Round(time.Millisecond))

		req := o.pending
		o.pending = nil

		if req == nil {
			req = &configureRequest{desired: o.desired, cctx: o.lastCtx, purge: unit.NewSet()}
		}

		o.startPass(req)

		return
	}

	desired := p.req.desired

	if p.failure == nil && !desired.Empty() && o.activeOf(desired).Empty() {
		p.failure = &UnrecoverableConfigurationError{
			Desired: desired,
			Failed:  desired.Filter(func(id unit.ID) bool { return !o.status.IsUsable(id) }),
			Reason:  "none of the desired units could be started",
		}
	}

	if p.failure != nil && !p.tornDown {
		p.tornDown = true

		for _, id := range o.ids {
			rec := o.units[id]
			if rec.fsm.Is(unit.StateRunning) || rec.fsm.Is(unit.StateFailed) {
				o.dispatchStop(rec, unit.StopSync)
			}
		}

		if o.busy() {
			return
		}
	}

	o.passSettled()

	result := ConfigureResult{
		RequestedTypes: desired,
		StatusTable:    o.status.Snapshot(),
		PassID:         p.id,
	}

	event := EventConfigureDone
	result.Status = ConfigureStatusOK

	if p.failure != nil {
		event = EventConfigureFailed
		result.Status = ConfigureStatusUnrecoverableError
		result.Err = p.failure
	}

	if err := o.machine.fire(event); err != nil {
		o.logger.Errorf("Failed to finish pass %s: %v", p.id, err)
	}

	o.deliver(result, p.started)
}

func (o *Orchestrator) deliver(result ConfigureResult, started time.Time) {
	metrics.ObserveConfigureResult(result.Status.String(), time.Since(started))
	o.publish()

	if result.Err != nil {
		o.logger.Warnw("Configuration finished", "status", result.Status, "pass", result.PassID,
			"requested", result.RequestedTypes.String(), "error", result.Err)
	} else {
		o.logger.Infow("Configuration finished", "status", result.Status, "pass", result.PassID,
			"requested", result.RequestedTypes.String())
	}

	if o.cfg.Observer != nil {
		o.cfg.Observer.OnConfigureDone(result)
	}
}

func (o *Orchestrator) stop(reason unit.ShutdownReason) {
	aborted, started := o.abortConfiguration()

	if o.machine.is(StateStopping) && (!reason.Purges() || o.stopReason.Purges()) {
		o.logger.Debugf("Already stopping (%s)", o.stopReason)

		if aborted != nil {
			aborted.StatusTable = o.status.Snapshot()
			o.deliver(*aborted, started)
		}

		return
	}

	if !o.machine.is(StateStopping) {
		if err := o.machine.fire(EventStop); err != nil {
			o.logger.Errorf("Failed to stop: %v", err)

			return
		}
	}

	o.stopReason = reason
	o.logger.Infof("Stopping all units (%s)", reason)

	if reason.Purges() {
		o.status.ResetAll()
	}

	for _, id := range o.ids {
		rec := o.units[id]
		rec.restartAfterStop = false
		o.requestStop(rec, reason)
	}

	if aborted != nil {
		aborted.StatusTable = o.status.Snapshot()
		o.deliver(*aborted, started)
	}

	o.settle()
}

// abortConfiguration drops the pass in flight and any queued request. It
// returns the ABORTED result owed to the newest of them, if there is one.
func (o *Orchestrator) abortConfiguration() (*ConfigureResult, time.Time) {
	var (
		aborted *ConfigureResult
		started time.Time
	)

	switch p := o.current; {
	case p != nil:
		req := p.req
		if p.superseded && o.pending != nil {
			req = o.pending
		}

		aborted = &ConfigureResult{
			Status:         ConfigureStatusAborted,
			RequestedTypes: req.desired,
			PassID:         p.id,
			Err:            ErrConfigurationAborted,
		}
		started = p.started

		o.passSettled()
	case o.pending != nil:
		aborted = &ConfigureResult{
			Status:         ConfigureStatusAborted,
			RequestedTypes: o.pending.desired,
			Err:            ErrConfigurationAborted,
		}
		started = time.Now()
	}

	o.pending = nil

	return aborted, started
}

func (o *Orchestrator) finishStop() {
	if err := o.machine.fire(EventStopDone); err != nil {
		o.logger.Errorf("Failed to finish stop: %v", err)

		return
	}

	if req := o.pending; req != nil {
		o.pending = nil

		if err := o.machine.fire(EventConfigure); err != nil {
			o.logger.Errorf("Failed to start queued configuration: %v", err)

			return
		}

		o.startPass(req)
	}
}

// reconfigure reruns the newest configuration if id is part of it and the
// orchestrator is not stopped.
func (o *Orchestrator) reconfigure(id unit.ID, reason unit.ConfigureReason) {
	desired := o.latestDesired()
	if !desired.Has(id) || o.machine.is(StateStopped, StateStopping) {
		return
	}

	cctx := o.lastCtx
	if o.pending != nil {
		cctx = o.pending.cctx
	}

	cctx.Reason = reason
	o.configure(&configureRequest{desired: desired, cctx: cctx, purge: unit.NewSet()})
}

func (o *Orchestrator) reenable(id unit.ID) {
	if _, ok := o.units[id]; !ok {
		o.logger.Warnf("Cannot re-enable unit %s: %v", id, ErrUnknownUnit)

		return
	}

	if !o.status.Reset(id) {
		o.logger.Debugf("Unit %s has no error to clear", id)

		return
	}

	o.logger.Infof("Unit %s re-enabled", id)
	o.reconfigure(id, unit.ReasonProgrammatic)
}

func (o *Orchestrator) readyChanged(id unit.ID) {
	rec, ok := o.units[id]
	if !ok {
		o.logger.Warnf("Readiness change for unit %s: %v", id, ErrUnknownUnit)

		return
	}

	if !rec.controller.IsReadyForStart() {
		o.status.RecordError(id, unit.ErrorKindUnready, ErrUnitNotReady)

		if rec.fsm.Is(unit.StateRunning) || rec.fsm.Is(unit.StateStarting) {
			o.logger.Infof("Unit %s is no longer ready, stopping it", id)
			o.requestStop(rec, unit.StopSync)
		}

		return
	}

	if o.status.ResetIfKind(id, unit.ErrorKindUnready) {
		o.logger.Infof("Unit %s is ready again", id)
		o.reconfigure(id, unit.ReasonProgrammatic)
	}
}

func (o *Orchestrator) purgeForMigration(ids unit.Set) {
	known := ids.Filter(func(id unit.ID) bool {
		_, ok := o.units[id]

		return ok
	})
	if known.Len() != ids.Len() {
		o.logger.Warnf("Ignoring unknown units in purge: %s", ids.Difference(known))
	}

	if known.Empty() {
		return
	}

	o.logger.Infof("Purging %s for migration", known)

	if o.pending != nil {
		o.pending.desired = o.pending.desired.Difference(known)
	}

	o.desired = o.desired.Difference(known)

	if o.machine.is(StateConfigured, StateConfiguring, StateRetrying) {
		cctx := o.lastCtx
		cctx.Reason = unit.ReasonMigration
		o.configure(&configureRequest{desired: o.latestDesired(), cctx: cctx, purge: known})

		return
	}

	for _, id := range known.Slice() {
		o.requestStop(o.units[id], unit.DisableSync)
	}
}
