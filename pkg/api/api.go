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

// Package api serves a small HTTP control surface over the orchestrator.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/orchestrator"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statustable"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// Orchestrator is the part of *orchestrator.Orchestrator the API drives.
type Orchestrator interface {
	Configure(desired unit.Set, cctx unit.ConfigureContext)
	Stop(reason unit.ShutdownReason)
	ReenableType(id unit.ID)
	ReadyForStartChanged(id unit.ID)
	ResetDataTypeErrors()
	PurgeForMigration(ids unit.Set)

	GetActiveDataTypes() unit.Set
	IsAuxiliaryFeatureEnabled() bool
	State() orchestrator.State
	StatusTable() statustable.Snapshot
	UnitStates() map[unit.ID]unit.State
	Units() unit.Set
}

var _ Orchestrator = (*orchestrator.Orchestrator)(nil)

// Server owns the HTTP listener of the control API.
type Server struct {
	server *http.Server
	router *gin.Engine
	orch   Orchestrator
	logger *zap.SugaredLogger
	addr   string
	debug  bool
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(orch Orchestrator, addr string, debug bool, logger *zap.SugaredLogger) (*Server, error) {
	if orch == nil {
		return nil, errors.New("api: orchestrator is nil")
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		orch:   orch,
		logger: logger,
		addr:   addr,
		debug:  debug,
	}
	s.router = s.newRouter()

	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter() *gin.Engine {
	if s.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	v1 := router.Group("/api/v1")
	v1.GET("/status", s.getStatus)
	v1.POST("/configure", s.postConfigure)
	v1.POST("/stop", s.postStop)
	v1.POST("/units/:id/reenable", s.postReenable)
	v1.POST("/units/:id/ready", s.postReady)
	v1.POST("/errors/reset", s.postResetErrors)
	v1.POST("/purge", s.postPurge)

	return router
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Infow("Starting control API", "addr", s.addr, "debug", s.debug)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control API: %w", err)
	}

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping control API")

	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.Debugw("API request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
