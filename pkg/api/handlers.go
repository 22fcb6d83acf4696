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

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

type unitStatus struct {
	State unit.State `json:"state"`
	Error *unitError `json:"error,omitempty"`
}

type unitError struct {
	Kind    unit.ErrorKind `json:"kind"`
	Message string         `json:"message"`
}

type statusResponse struct {
	State            string                 `json:"state"`
	Active           unit.Set               `json:"active"`
	AuxiliaryEnabled bool                   `json:"auxiliaryEnabled"`
	Units            map[unit.ID]unitStatus `json:"units"`
}

type configureRequest struct {
	Desired   []unit.ID `json:"desired"`
	Reason    string    `json:"reason"`
	CacheGUID string    `json:"cacheGuid"`
}

type stopRequest struct {
	Reason string `json:"reason"`
}

type purgeRequest struct {
	Units []unit.ID `json:"units"`
}

type acceptedResponse struct {
	State string `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(c *gin.Context, code int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Errorf("Failed to encode response for %s: %v", c.Request.URL.Path, err)
		c.Status(http.StatusInternalServerError)

		return
	}

	c.Data(code, "application/json; charset=utf-8", data)
}

func (s *Server) fail(c *gin.Context, code int, err error) {
	s.writeJSON(c, code, errorResponse{Error: err.Error()})
}

func (s *Server) accepted(c *gin.Context) {
	s.writeJSON(c, http.StatusAccepted, acceptedResponse{State: string(s.orch.State())})
}

// decode reads an optional JSON body into dst. An empty body leaves dst as is.
func decode(c *gin.Context, dst any) error {
	raw, err := c.GetRawData()
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}

	return nil
}

// known rejects ids the orchestrator has no controller for.
func (s *Server) known(ids ...unit.ID) error {
	units := s.orch.Units()
	for _, id := range ids {
		if id == "" {
			return errors.New("empty unit id")
		}

		if !units.Has(id) {
			return fmt.Errorf("unknown unit %q", id)
		}
	}

	return nil
}

func (s *Server) getStatus(c *gin.Context) {
	states := s.orch.UnitStates()
	table := s.orch.StatusTable()

	units := make(map[unit.ID]unitStatus, len(states))
	for id, state := range states {
		status := unitStatus{State: state}
		if entry, ok := table[id]; ok {
			status.Error = &unitError{Kind: entry.Kind, Message: entry.Message}
		}

		units[id] = status
	}

	s.writeJSON(c, http.StatusOK, statusResponse{
		State:            string(s.orch.State()),
		Active:           s.orch.GetActiveDataTypes(),
		AuxiliaryEnabled: s.orch.IsAuxiliaryFeatureEnabled(),
		Units:            units,
	})
}

func (s *Server) postConfigure(c *gin.Context) {
	var req configureRequest
	if err := decode(c, &req); err != nil {
		s.fail(c, http.StatusBadRequest, err)

		return
	}

	reason := unit.ReasonReconfiguration
	if req.Reason != "" {
		parsed, err := unit.ParseConfigureReason(req.Reason)
		if err != nil {
			s.fail(c, http.StatusBadRequest, err)

			return
		}

		reason = parsed
	}

	if err := s.known(req.Desired...); err != nil {
		s.fail(c, http.StatusBadRequest, err)

		return
	}

	desired := unit.NewSet(req.Desired...)
	s.logger.Infof("Configure requested via API: %s (%s)", desired, reason)
	s.orch.Configure(desired, unit.ConfigureContext{Reason: reason, CacheGUID: req.CacheGUID})
	s.accepted(c)
}

func (s *Server) postStop(c *gin.Context) {
	req := stopRequest{Reason: unit.StopSync.String()}
	if err := decode(c, &req); err != nil {
		s.fail(c, http.StatusBadRequest, err)

		return
	}

	reason, err := unit.ParseShutdownReason(req.Reason)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)

		return
	}

	s.logger.Infof("Stop requested via API: %s", reason)
	s.orch.Stop(reason)
	s.accepted(c)
}

func (s *Server) postReenable(c *gin.Context) {
	id := unit.ID(c.Param("id"))
	if err := s.known(id); err != nil {
		s.fail(c, http.StatusNotFound, err)

		return
	}

	s.orch.ReenableType(id)
	s.accepted(c)
}

func (s *Server) postReady(c *gin.Context) {
	id := unit.ID(c.Param("id"))
	if err := s.known(id); err != nil {
		s.fail(c, http.StatusNotFound, err)

		return
	}

	s.orch.ReadyForStartChanged(id)
	s.accepted(c)
}

func (s *Server) postResetErrors(c *gin.Context) {
	s.orch.ResetDataTypeErrors()
	s.accepted(c)
}

func (s *Server) postPurge(c *gin.Context) {
	var req purgeRequest
	if err := decode(c, &req); err != nil {
		s.fail(c, http.StatusBadRequest, err)

		return
	}

	if len(req.Units) == 0 {
		s.fail(c, http.StatusBadRequest, errors.New("no units to purge"))

		return
	}

	if err := s.known(req.Units...); err != nil {
		s.fail(c, http.StatusBadRequest, err)

		return
	}

	s.orch.PurgeForMigration(unit.NewSet(req.Units...))
	s.accepted(c)
}
