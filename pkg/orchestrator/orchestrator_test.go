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

package orchestrator_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/orchestrator"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statusstore"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

var errBoom = errors.New("boom")

var _ = Describe("Orchestrator", func() {
	var h *harness

	AfterEach(func() {
		if h != nil {
			h.close()
			h = nil
		}
	})

	Describe("New", func() {
		It("rejects duplicate unit ids", func() {
			_, err := orchestrator.New(orchestrator.Config{
				Controllers: []unit.Controller{unit.NewMockController("a"), unit.NewMockController("a")},
				Logger:      zap.NewNop().Sugar(),
			})
			Expect(err).To(MatchError(ContainSubstring("duplicate unit id a")))
		})

		It("rejects nil controllers", func() {
			_, err := orchestrator.New(orchestrator.Config{
				Controllers: []unit.Controller{nil},
				Logger:      zap.NewNop().Sugar(),
			})
			Expect(err).To(HaveOccurred())
		})

		It("rejects an auxiliary unit that is not registered", func() {
			_, err := orchestrator.New(orchestrator.Config{
				Controllers:   []unit.Controller{unit.NewMockController("a")},
				AuxiliaryUnit: "nigori",
				Logger:        zap.NewNop().Sugar(),
			})
			Expect(err).To(MatchError(orchestrator.ErrUnknownUnit))
		})

		It("starts out stopped with nothing active", func() {
			orch, err := orchestrator.New(orchestrator.Config{
				Controllers: []unit.Controller{unit.NewMockController("a")},
				Logger:      zap.NewNop().Sugar(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(orch.State()).To(Equal(orchestrator.StateStopped))
			Expect(orch.GetActiveDataTypes().Empty()).To(BeTrue())
			Expect(orch.UnitStates()).To(HaveKeyWithValue(unit.ID("a"), unit.StateNotRunning))
			Expect(orch.Units()).To(Equal(unit.SetOf("a")))
		})

		It("refuses to run twice", func() {
			h = newHarness([]unit.ID{"a"})
			h.configure()
			h.awaitResults(1)

			Expect(h.orch.Run(context.Background())).To(MatchError(orchestrator.ErrAlreadyRunning))
		})
	})

	Describe("Configure", func() {
		BeforeEach(func() {
			h = newHarness([]unit.ID{"a", "b", "c"})
		})

		It("starts exactly the desired units", func() {
			h.configure("a", "b")

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("a", "b")))
			Expect(result.PassID).NotTo(BeEmpty())

			Expect(h.orch.State()).To(Equal(orchestrator.StateConfigured))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a", "b")))
			Expect(h.units["a"].StartCalls()).To(Equal(1))
			Expect(h.units["c"].StartCalls()).To(Equal(0))
			Expect(h.rec.Starts()).To(Equal(1))
		})

		It("hands the configure context to every start of the pass", func() {
			h.configure("a", "b")
			result := h.awaitResults(1)

			for _, id := range []unit.ID{"a", "b"} {
				cctx := h.units[id].LastConfigureContext()
				Expect(cctx.Reason).To(Equal(unit.ReasonReconfiguration))
				Expect(cctx.CacheGUID).To(Equal("cache"))
				Expect(cctx.PassID).To(Equal(result.PassID))
			}

			Expect(h.units["a"].LastConfigureContext().Fingerprint).
				To(Equal(h.units["b"].LastConfigureContext().Fingerprint))
		})

		It("does nothing for a repeated identical configuration", func() {
			h.configure("a")
			h.awaitResults(1)

			h.configure("a")
			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))

			Expect(h.units["a"].StartCalls()).To(Equal(1))
			Expect(h.units["a"].StopCalls()).To(Equal(0))
		})

		It("stops what is no longer desired and starts what is new", func() {
			h.configure("a", "b")
			h.awaitResults(1)

			h.configure("b", "c")
			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))

			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("b", "c")))
			Expect(h.units["a"].StopReasons()).To(Equal([]unit.ShutdownReason{unit.StopSync}))
			Expect(h.units["b"].StartCalls()).To(Equal(1))
			Expect(h.units["c"].StartCalls()).To(Equal(1))
			h.noOverlap()
		})

		It("succeeds with an empty desired set", func() {
			h.configure()

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(h.orch.State()).To(Equal(orchestrator.StateConfigured))
			Expect(h.orch.GetActiveDataTypes().Empty()).To(BeTrue())
		})

		It("supersedes a pass that is still in flight", func() {
			release := h.units["a"].BlockStart()
			h.configure("a", "b")
			Eventually(h.units["a"].StartCalls, timeout, interval).Should(Equal(1))
			h.awaitState(orchestrator.StateConfiguring)

			h.configure("b", "c")
			h.awaitState(orchestrator.StateRetrying)
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(0))

			release()

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("b", "c")))
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(1))

			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("b", "c")))
			Expect(h.units["a"].StopCalls()).To(Equal(1))
			Expect(h.units["b"].StartCalls()).To(Equal(1))
			h.noOverlap()
		})

		It("only runs the newest of several superseding requests", func() {
			release := h.units["a"].BlockStart()
			h.configure("a")
			Eventually(h.units["a"].StartCalls, timeout, interval).Should(Equal(1))

			h.configure("b")
			h.configure("c")
			h.configure("a", "c")
			release()

			result := h.awaitResults(1)
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("a", "c")))
			Expect(h.units["b"].StartCalls()).To(Equal(0))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a", "c")))
		})

		It("fails unrecoverably for unknown units", func() {
			h.configure("a", "ghost")

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusUnrecoverableError))

			var unrecoverable *orchestrator.UnrecoverableConfigurationError
			Expect(errors.As(result.Err, &unrecoverable)).To(BeTrue())
			Expect(unrecoverable.Failed).To(Equal(unit.SetOf("ghost")))
			Expect(h.orch.State()).To(Equal(orchestrator.StateStopped))
			Expect(h.units["a"].StartCalls()).To(Equal(0))
		})
	})

	Describe("unit failures", func() {
		BeforeEach(func() {
			h = newHarness([]unit.ID{"a", "b"})
		})

		It("excludes a failed unit and keeps the rest running", func() {
			h.units["b"].SetStartError(errBoom)
			h.configure("a", "b")

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(result.StatusTable).To(HaveKey(unit.ID("b")))
			Expect(result.StatusTable["b"].Kind).To(Equal(unit.ErrorKindDatatype))

			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a")))
			Expect(h.orch.UnitStates()).To(HaveKeyWithValue(unit.ID("b"), unit.StateFailed))
		})

		It("keeps the error kind chosen by the controller", func() {
			h.units["b"].SetStartError(unit.NewCryptoError("b", errBoom))
			h.configure("a", "b")
			h.awaitResults(1)

			Expect(h.orch.StatusTable()["b"].Kind).To(Equal(unit.ErrorKindCrypto))
		})

		It("does not retry a failed unit on reconfiguration", func() {
			h.units["b"].SetStartError(errBoom)
			h.configure("a", "b")
			h.awaitResults(1)

			h.units["b"].SetStartError(nil)
			h.configure("a", "b")
			h.awaitResults(2)

			Expect(h.units["b"].StartCalls()).To(Equal(1))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a")))
		})

		It("fails unrecoverably when no desired unit starts", func() {
			h.units["a"].SetStartError(errBoom)
			h.configure("a")

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusUnrecoverableError))
			Expect(result.Err).To(BeAssignableToTypeOf(&orchestrator.UnrecoverableConfigurationError{}))
			Expect(h.rec.StatesAtDone()).To(Equal([]orchestrator.State{orchestrator.StateStopped}))
			Expect(h.orch.GetActiveDataTypes().Empty()).To(BeTrue())
			Expect(h.orch.UnitStates()).To(HaveKeyWithValue(unit.ID("a"), unit.StateNotRunning))
		})

		It("tears everything down when a unit fails unrecoverably", func() {
			h.units["b"].SetStartError(unit.NewUnrecoverableError("b", errBoom))
			h.configure("a", "b")

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusUnrecoverableError))
			Expect(result.Err).To(MatchError(ContainSubstring("boom")))
			Expect(h.orch.State()).To(Equal(orchestrator.StateStopped))
			Expect(h.units["a"].StopCalls()).To(Equal(1))
			Expect(h.units["a"].IsRunning()).To(BeFalse())
			h.noOverlap()
		})

		It("brings a unit back with ReenableType", func() {
			h.units["b"].SetStartError(errBoom)
			h.configure("a", "b")
			h.awaitResults(1)

			h.units["b"].SetStartError(nil)
			h.orch.ReenableType("b")

			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a", "b")))
			Expect(h.orch.StatusTable()).To(BeEmpty())

			Expect(h.units["b"].StopCalls()).To(Equal(1))
			Expect(h.units["b"].StartCalls()).To(Equal(2))
			Expect(h.units["b"].LastConfigureContext().Reason).To(Equal(unit.ReasonProgrammatic))
			Expect(h.units["a"].StartCalls()).To(Equal(1))
			h.noOverlap()
		})

		It("ignores ReenableType for a unit without error", func() {
			h.configure("a")
			h.awaitResults(1)

			h.orch.ReenableType("a")
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(1))
		})

		It("clears errors with ResetDataTypeErrors without reconfiguring", func() {
			h.units["b"].SetStartError(errBoom)
			h.configure("a", "b")
			h.awaitResults(1)

			h.orch.ResetDataTypeErrors()
			Eventually(h.orch.StatusTable, timeout, interval).Should(BeEmpty())
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(1))

			h.units["b"].SetStartError(nil)
			h.configure("a", "b")
			h.awaitResults(2)
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a", "b")))
		})
	})

	Describe("readiness", func() {
		BeforeEach(func() {
			h = newHarness([]unit.ID{"a", "b"})
		})

		It("skips units that are not ready", func() {
			h.units["a"].SetReady(false)
			h.configure("a", "b")

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(result.StatusTable["a"].Kind).To(Equal(unit.ErrorKindUnready))
			Expect(h.units["a"].StartCalls()).To(Equal(0))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("b")))
		})

		It("stops a unit that stops being ready and restarts it once ready again", func() {
			h.configure("a", "b")
			h.awaitResults(1)

			h.units["a"].SetReady(false)
			h.orch.ReadyForStartChanged("a")
			h.awaitUnit("a", unit.StateNotRunning)

			Expect(h.orch.State()).To(Equal(orchestrator.StateConfigured))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("b")))
			Expect(h.orch.StatusTable()["a"].Kind).To(Equal(unit.ErrorKindUnready))
			Expect(h.rec.Count()).To(Equal(1))

			h.units["a"].SetReady(true)
			h.orch.ReadyForStartChanged("a")

			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a", "b")))
			Expect(h.units["a"].StartCalls()).To(Equal(2))
		})

		It("keeps a failed unit unusable across a readiness flap", func() {
			h.units["b"].SetStartError(errBoom)
			h.configure("a", "b")
			h.awaitResults(1)
			h.awaitUnit("b", unit.StateFailed)

			h.units["b"].SetReady(false)
			h.orch.ReadyForStartChanged("b")

			h.configure("a", "b")
			result := h.awaitResults(2)
			Expect(result.StatusTable["b"].Kind).To(Equal(unit.ErrorKindDatatype))

			h.units["b"].SetStartError(nil)
			h.units["b"].SetReady(true)
			h.orch.ReadyForStartChanged("b")

			Consistently(h.units["b"].StartCalls, 100*time.Millisecond, interval).Should(Equal(1))
			Expect(h.rec.Count()).To(Equal(2))
			Expect(h.orch.StatusTable()["b"].Kind).To(Equal(unit.ErrorKindDatatype))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a")))
		})

		It("starts a unit again only after its stop has returned", func() {
			h.configure("a")
			h.awaitResults(1)

			releaseStop := h.units["a"].BlockStop()
			h.units["a"].SetReady(false)
			h.orch.ReadyForStartChanged("a")
			h.awaitUnit("a", unit.StateStopping)

			h.units["a"].SetReady(true)
			h.orch.ReadyForStartChanged("a")
			h.awaitState(orchestrator.StateConfiguring)
			Consistently(h.units["a"].StartCalls, 50*time.Millisecond, interval).Should(Equal(1))

			releaseStop()

			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(h.units["a"].StartCalls()).To(Equal(2))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a")))
			h.noOverlap()
		})
	})

	Describe("Stop", func() {
		BeforeEach(func() {
			h = newHarness([]unit.ID{"a", "b"})
		})

		It("stops every unit and keeps errors on StopSync", func() {
			h.units["b"].SetStartError(errBoom)
			h.configure("a", "b")
			h.awaitResults(1)

			h.orch.Stop(unit.StopSync)
			h.awaitState(orchestrator.StateStopped)

			Expect(h.orch.GetActiveDataTypes().Empty()).To(BeTrue())
			Expect(h.orch.StatusTable()).To(HaveKey(unit.ID("b")))
			Expect(h.units["a"].StopReasons()).To(Equal([]unit.ShutdownReason{unit.StopSync}))
			Expect(h.units["b"].StopCalls()).To(Equal(1))
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(1))
		})

		It("clears errors and purges units on DisableSync", func() {
			h.units["b"].SetStartError(errBoom)
			h.configure("a", "b")
			h.awaitResults(1)

			h.orch.Stop(unit.DisableSync)
			h.awaitState(orchestrator.StateStopped)

			Expect(h.orch.StatusTable()).To(BeEmpty())
			Expect(h.units["a"].StopReasons()).To(Equal([]unit.ShutdownReason{unit.DisableSync}))
			Expect(h.units["b"].StopReasons()).To(Equal([]unit.ShutdownReason{unit.DisableSync}))
		})

		It("reaches units that are not running", func() {
			h.orch.Stop(unit.DisableSync)
			h.awaitState(orchestrator.StateStopped)

			Eventually(h.units["a"].StopCalls, timeout, interval).Should(Equal(1))
			Eventually(h.units["b"].StopCalls, timeout, interval).Should(Equal(1))
		})

		It("aborts a configuration in flight and stops the unit after its start returns", func() {
			release := h.units["a"].BlockStart()
			h.configure("a")
			Eventually(h.units["a"].StartCalls, timeout, interval).Should(Equal(1))

			h.orch.Stop(unit.DisableSync)

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusAborted))
			Expect(result.Err).To(MatchError(orchestrator.ErrConfigurationAborted))
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("a")))
			Expect(h.rec.StatesAtDone()).To(Equal([]orchestrator.State{orchestrator.StateStopping}))
			Expect(h.units["a"].StopCalls()).To(Equal(0))

			release()

			h.awaitState(orchestrator.StateStopped)
			Eventually(h.units["a"].StopReasons, timeout, interval).
				Should(ContainElement(unit.DisableSync))
			Expect(h.units["a"].IsRunning()).To(BeFalse())
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(1))
			h.noOverlap()
		})

		It("reports the superseding request as aborted", func() {
			release := h.units["a"].BlockStart()
			h.configure("a")
			Eventually(h.units["a"].StartCalls, timeout, interval).Should(Equal(1))

			h.configure("b")
			h.awaitState(orchestrator.StateRetrying)
			h.orch.Stop(unit.StopSync)

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusAborted))
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("b")))

			release()
			h.awaitState(orchestrator.StateStopped)
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(1))
			Expect(h.units["b"].StartCalls()).To(Equal(0))
		})

		It("runs a configuration requested while stopping once the stop is done", func() {
			h.configure("a")
			h.awaitResults(1)

			releaseStop := h.units["a"].BlockStop()
			h.orch.Stop(unit.StopSync)
			h.awaitState(orchestrator.StateStopping)

			h.configure("a")
			Consistently(h.orch.State, 50*time.Millisecond, interval).Should(Equal(orchestrator.StateStopping))

			releaseStop()

			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(h.orch.State()).To(Equal(orchestrator.StateConfigured))
			Expect(h.units["a"].StartCalls()).To(Equal(2))
			h.noOverlap()
		})

		It("lets a later Stop win over a configuration queued while stopping", func() {
			h.configure("a")
			h.awaitResults(1)

			releaseStop := h.units["a"].BlockStop()
			h.orch.Stop(unit.StopSync)
			h.awaitState(orchestrator.StateStopping)

			h.configure("a")
			h.orch.Stop(unit.StopSync)

			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusAborted))
			Expect(result.Err).To(MatchError(orchestrator.ErrConfigurationAborted))
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("a")))

			releaseStop()

			h.awaitState(orchestrator.StateStopped)
			Consistently(h.orch.State, 100*time.Millisecond, interval).Should(Equal(orchestrator.StateStopped))
			Expect(h.orch.GetActiveDataTypes().Empty()).To(BeTrue())
			Expect(h.units["a"].StartCalls()).To(Equal(1))
			Expect(h.rec.Count()).To(Equal(2))
		})

		It("aborts a queued configuration when a purge upgrades the stop", func() {
			h.configure("a")
			h.awaitResults(1)

			releaseStop := h.units["a"].BlockStop()
			h.orch.Stop(unit.StopSync)
			h.awaitUnit("a", unit.StateStopping)

			h.configure("a", "b")
			h.orch.Stop(unit.DisableSync)

			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusAborted))
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("a", "b")))

			releaseStop()

			h.awaitState(orchestrator.StateStopped)
			Consistently(h.orch.State, 100*time.Millisecond, interval).Should(Equal(orchestrator.StateStopped))
			Expect(h.units["b"].StartCalls()).To(Equal(0))
			h.noOverlap()
		})

		It("upgrades a running stop to a purge", func() {
			h.configure("a")
			h.awaitResults(1)

			releaseStop := h.units["a"].BlockStop()
			h.orch.Stop(unit.StopSync)
			h.awaitUnit("a", unit.StateStopping)

			h.orch.Stop(unit.DisableSync)
			releaseStop()

			h.awaitState(orchestrator.StateStopped)
			Expect(h.units["a"].StopReasons()).To(Equal([]unit.ShutdownReason{unit.StopSync, unit.DisableSync}))
			h.noOverlap()
		})
	})

	Describe("PurgeForMigration", func() {
		BeforeEach(func() {
			h = newHarness([]unit.ID{"a", "b"})
		})

		It("removes the units from the configuration and purges them", func() {
			h.configure("a", "b")
			h.awaitResults(1)

			h.orch.PurgeForMigration(unit.SetOf("b"))

			result := h.awaitResults(2)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(result.RequestedTypes).To(Equal(unit.SetOf("a")))
			Expect(h.units["b"].StopReasons()).To(Equal([]unit.ShutdownReason{unit.DisableSync}))
			Expect(h.units["a"].StopCalls()).To(Equal(0))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a")))
		})

		It("purges stopped units without configuring", func() {
			h.orch.PurgeForMigration(unit.SetOf("a"))

			Eventually(h.units["a"].StopReasons, timeout, interval).
				Should(Equal([]unit.ShutdownReason{unit.DisableSync}))
			Expect(h.orch.State()).To(Equal(orchestrator.StateStopped))
			Consistently(h.rec.Count, 50*time.Millisecond, interval).Should(Equal(0))
		})
	})

	Describe("IsAuxiliaryFeatureEnabled", func() {
		BeforeEach(func() {
			h = newHarness([]unit.ID{"a", "nigori"}, func(cfg *orchestrator.Config) {
				cfg.AuxiliaryUnit = "nigori"
			})
		})

		It("follows the activity of the auxiliary unit", func() {
			h.configure("a")
			h.awaitResults(1)
			Expect(h.orch.IsAuxiliaryFeatureEnabled()).To(BeFalse())

			h.configure("a", "nigori")
			h.awaitResults(2)
			Expect(h.orch.IsAuxiliaryFeatureEnabled()).To(BeTrue())

			h.orch.Stop(unit.StopSync)
			h.awaitState(orchestrator.StateStopped)
			Expect(h.orch.IsAuxiliaryFeatureEnabled()).To(BeFalse())
		})
	})

	Describe("status persistence", func() {
		It("restores unit errors after a restart", func() {
			store := statusstore.NewMemory()
			withStore := func(cfg *orchestrator.Config) { cfg.Store = store }

			first := newHarness([]unit.ID{"a", "b"}, withStore)
			first.units["b"].SetStartError(errBoom)
			first.configure("a", "b")
			first.awaitResults(1)

			Eventually(func() (int, error) {
				snap, err := store.Load(context.Background())

				return len(snap), err
			}, timeout, interval).Should(Equal(1))
			first.close()

			h = newHarness([]unit.ID{"a", "b"}, withStore)
			h.configure("a", "b")

			result := h.awaitResults(1)
			Expect(result.Status).To(Equal(orchestrator.ConfigureStatusOK))
			Expect(h.units["b"].StartCalls()).To(Equal(0))
			Expect(h.orch.StatusTable()["b"].Kind).To(Equal(unit.ErrorKindDatatype))
			Expect(h.orch.GetActiveDataTypes()).To(Equal(unit.SetOf("a")))
		})
	})

	Describe("observer callbacks", func() {
		It("may call back into the orchestrator", func() {
			var orch *orchestrator.Orchestrator

			observer := orchestrator.ObserverFuncs{
				Done: func(result orchestrator.ConfigureResult) {
					if result.RequestedTypes.Equal(unit.SetOf("a")) {
						orch.Configure(unit.SetOf("a", "b"), unit.ConfigureContext{})
					}
				},
			}

			h = newHarness([]unit.ID{"a", "b"}, func(cfg *orchestrator.Config) {
				cfg.Observer = observer
			})
			orch = h.orch

			h.configure("a")
			Eventually(h.orch.GetActiveDataTypes, timeout, interval).Should(Equal(unit.SetOf("a", "b")))
		})
	})
})
