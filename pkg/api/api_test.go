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

package api_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/api"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/orchestrator"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statustable"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

type call struct {
	name   string
	ids    unit.Set
	cctx   unit.ConfigureContext
	reason unit.ShutdownReason
}

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls []call
	state orchestrator.State
	units map[unit.ID]unit.State
	table statustable.Snapshot
}

func newFake() *fakeOrchestrator {
	return &fakeOrchestrator{
		state: orchestrator.StateConfigured,
		units: map[unit.ID]unit.State{
			"bookmarks": unit.StateRunning,
			"passwords": unit.StateFailed,
			"history":   unit.StateNotRunning,
		},
		table: statustable.Snapshot{
			"passwords": {Kind: unit.ErrorKindCrypto, Message: "key missing"},
		},
	}
}

func (f *fakeOrchestrator) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
}

func (f *fakeOrchestrator) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]call(nil), f.calls...)
}

func (f *fakeOrchestrator) Configure(desired unit.Set, cctx unit.ConfigureContext) {
	f.record(call{name: "configure", ids: desired, cctx: cctx})
}

func (f *fakeOrchestrator) Stop(reason unit.ShutdownReason) {
	f.record(call{name: "stop", reason: reason})
}

func (f *fakeOrchestrator) ReenableType(id unit.ID) {
	f.record(call{name: "reenable", ids: unit.NewSet(id)})
}

func (f *fakeOrchestrator) ReadyForStartChanged(id unit.ID) {
	f.record(call{name: "ready", ids: unit.NewSet(id)})
}

func (f *fakeOrchestrator) ResetDataTypeErrors() {
	f.record(call{name: "reset"})
}

func (f *fakeOrchestrator) PurgeForMigration(ids unit.Set) {
	f.record(call{name: "purge", ids: ids})
}

func (f *fakeOrchestrator) GetActiveDataTypes() unit.Set { return unit.SetOf("bookmarks") }

func (f *fakeOrchestrator) IsAuxiliaryFeatureEnabled() bool { return true }

func (f *fakeOrchestrator) State() orchestrator.State { return f.state }

func (f *fakeOrchestrator) StatusTable() statustable.Snapshot { return f.table }

func (f *fakeOrchestrator) UnitStates() map[unit.ID]unit.State { return f.units }

func (f *fakeOrchestrator) Units() unit.Set {
	ids := make([]unit.ID, 0, len(f.units))
	for id := range f.units {
		ids = append(ids, id)
	}

	return unit.NewSet(ids...)
}

var _ = Describe("Server", func() {
	var (
		fake    *fakeOrchestrator
		handler http.Handler
	)

	BeforeEach(func() {
		fake = newFake()

		server, err := api.NewServer(fake, ":0", false, zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())

		handler = server.Handler()
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader *bytes.Reader
		if body == "" {
			reader = bytes.NewReader(nil)
		} else {
			reader = bytes.NewReader([]byte(body))
		}

		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec
	}

	It("rejects a nil orchestrator", func() {
		_, err := api.NewServer(nil, ":0", false, nil)
		Expect(err).To(HaveOccurred())
	})

	Describe("GET /api/v1/status", func() {
		It("reports the orchestrator and per-unit state", func() {
			rec := do(http.MethodGet, "/api/v1/status", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body struct {
				State            string   `json:"state"`
				Active           []string `json:"active"`
				AuxiliaryEnabled bool     `json:"auxiliaryEnabled"`
				Units            map[string]struct {
					State string `json:"state"`
					Error *struct {
						Kind    string `json:"kind"`
						Message string `json:"message"`
					} `json:"error"`
				} `json:"units"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())

			Expect(body.State).To(Equal("CONFIGURED"))
			Expect(body.Active).To(Equal([]string{"bookmarks"}))
			Expect(body.AuxiliaryEnabled).To(BeTrue())
			Expect(body.Units).To(HaveLen(3))
			Expect(body.Units["bookmarks"].State).To(Equal("running"))
			Expect(body.Units["bookmarks"].Error).To(BeNil())
			Expect(body.Units["passwords"].Error).NotTo(BeNil())
			Expect(body.Units["passwords"].Error.Kind).To(Equal(unit.ErrorKindCrypto.String()))
			Expect(body.Units["passwords"].Error.Message).To(Equal("key missing"))
		})
	})

	Describe("POST /api/v1/configure", func() {
		It("forwards the desired set and context", func() {
			rec := do(http.MethodPost, "/api/v1/configure",
				`{"desired":["history","bookmarks"],"reason":"new_client","cacheGuid":"guid-1"}`)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).To(ContainSubstring(`"state":"CONFIGURED"`))

			calls := fake.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].name).To(Equal("configure"))
			Expect(calls[0].ids.Equal(unit.SetOf("bookmarks", "history"))).To(BeTrue())
			Expect(calls[0].cctx.Reason).To(Equal(unit.ReasonNewClient))
			Expect(calls[0].cctx.CacheGUID).To(Equal("guid-1"))
		})

		It("defaults the reason to reconfiguration", func() {
			rec := do(http.MethodPost, "/api/v1/configure", `{"desired":[]}`)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(fake.Calls()[0].cctx.Reason).To(Equal(unit.ReasonReconfiguration))
			Expect(fake.Calls()[0].ids.Empty()).To(BeTrue())
		})

		DescribeTable("rejects bad requests",
			func(body string) {
				rec := do(http.MethodPost, "/api/v1/configure", body)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(rec.Body.String()).To(ContainSubstring(`"error"`))
				Expect(fake.Calls()).To(BeEmpty())
			},
			Entry("malformed json", `{"desired":`),
			Entry("unknown reason", `{"desired":["bookmarks"],"reason":"because"}`),
			Entry("unknown unit", `{"desired":["ghost"]}`),
			Entry("empty unit id", `{"desired":[""]}`),
		)
	})

	Describe("POST /api/v1/stop", func() {
		It("defaults to stop_sync", func() {
			rec := do(http.MethodPost, "/api/v1/stop", "")
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(fake.Calls()).To(ConsistOf(call{name: "stop", reason: unit.StopSync}))
		})

		It("accepts disable_sync", func() {
			rec := do(http.MethodPost, "/api/v1/stop", `{"reason":"disable_sync"}`)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(fake.Calls()).To(ConsistOf(call{name: "stop", reason: unit.DisableSync}))
		})

		It("rejects unknown reasons", func() {
			rec := do(http.MethodPost, "/api/v1/stop", `{"reason":"pause"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(fake.Calls()).To(BeEmpty())
		})
	})

	Describe("unit routes", func() {
		It("re-enables a known unit", func() {
			rec := do(http.MethodPost, "/api/v1/units/passwords/reenable", "")
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(fake.Calls()).To(HaveLen(1))
			Expect(fake.Calls()[0].name).To(Equal("reenable"))
			Expect(fake.Calls()[0].ids.Has("passwords")).To(BeTrue())
		})

		It("signals a readiness change", func() {
			rec := do(http.MethodPost, "/api/v1/units/history/ready", "")
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(fake.Calls()[0].name).To(Equal("ready"))
		})

		It("returns 404 for unknown units", func() {
			Expect(do(http.MethodPost, "/api/v1/units/ghost/reenable", "").Code).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodPost, "/api/v1/units/ghost/ready", "").Code).To(Equal(http.StatusNotFound))
			Expect(fake.Calls()).To(BeEmpty())
		})
	})

	It("resets all unit errors", func() {
		rec := do(http.MethodPost, "/api/v1/errors/reset", "")
		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(fake.Calls()).To(HaveLen(1))
		Expect(fake.Calls()[0].name).To(Equal("reset"))
	})

	Describe("POST /api/v1/purge", func() {
		It("purges the named units", func() {
			rec := do(http.MethodPost, "/api/v1/purge", `{"units":["history"]}`)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(fake.Calls()[0].name).To(Equal("purge"))
			Expect(fake.Calls()[0].ids.Equal(unit.SetOf("history"))).To(BeTrue())
		})

		It("requires at least one unit", func() {
			Expect(do(http.MethodPost, "/api/v1/purge", `{"units":[]}`).Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodPost, "/api/v1/purge", "").Code).To(Equal(http.StatusBadRequest))
			Expect(fake.Calls()).To(BeEmpty())
		})
	})

	It("answers unknown routes with 404", func() {
		Expect(do(http.MethodGet, "/api/v1/nope", "").Code).To(Equal(http.StatusNotFound))
	})
})
