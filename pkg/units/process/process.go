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

// Package process provides a unit.Controller that supervises a local command.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

// Environment passed to the supervised command.
const (
	EnvPassID      = "ORCHESTRATOR_PASS_ID"
	EnvReason      = "ORCHESTRATOR_CONFIGURE_REASON"
	EnvCacheGUID   = "ORCHESTRATOR_CACHE_GUID"
	EnvFingerprint = "ORCHESTRATOR_FINGERPRINT"
	EnvDataDir     = "ORCHESTRATOR_DATA_DIR"
)

// ErrExitedDuringStart is wrapped by Start when the command does not survive
// its grace period.
var ErrExitedDuringStart = errors.New("process exited during start")

type Config struct {
	ID      unit.ID
	Command string
	Args    []string
	Env     []string

	// DataDir is created before start and removed on DisableSync. Optional.
	DataDir string

	// StartGracePeriod is how long the command must stay alive to count as
	// started.
	StartGracePeriod time.Duration

	// StopTimeout is how long the command gets after SIGTERM before it is
	// killed.
	StopTimeout time.Duration
}

// Controller runs Config.Command while the unit is running.
type Controller struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	exitErr  error
	stopping bool
}

var _ unit.Controller = (*Controller)(nil)

func New(cfg Config, logger *zap.SugaredLogger) *Controller {
	if cfg.StartGracePeriod <= 0 {
		cfg.StartGracePeriod = constants.DefaultStartGracePeriod
	}

	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = constants.DefaultStopTimeout
	}

	return &Controller{cfg: cfg, logger: logger.With("unit", cfg.ID)}
}

func (c *Controller) ID() unit.ID {
	return c.cfg.ID
}

// IsReadyForStart reports whether the command can be resolved.
func (c *Controller) IsReadyForStart() bool {
	_, err := exec.LookPath(c.cfg.Command)

	return err == nil
}

// Start launches the command and waits for the grace period.
func (c *Controller) Start(ctx context.Context, cctx unit.ConfigureContext) error {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()

		return nil
	}
	c.mu.Unlock()

	if c.cfg.DataDir != "" {
		if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
			return unit.NewPersistenceError(c.cfg.ID, err)
		}
	}

	path, err := exec.LookPath(c.cfg.Command)
	if err != nil {
		return unit.NewError(c.cfg.ID, unit.ErrorKindUnready, err)
	}

	cmd := exec.Command(path, c.cfg.Args...)
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Env = append(cmd.Env,
		EnvPassID+"="+cctx.PassID,
		EnvReason+"="+cctx.Reason.String(),
		EnvCacheGUID+"="+cctx.CacheGUID,
		EnvFingerprint+"="+strconv.FormatUint(cctx.Fingerprint, 16),
		EnvDataDir+"="+c.cfg.DataDir,
	)
	stdout, stderr := c.lineLogger("stdout"), c.lineLogger("stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = c.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()

		return unit.NewError(c.cfg.ID, unit.ErrorKindDatatype, fmt.Errorf("launch %s: %w", c.cfg.Command, err))
	}

	exited := make(chan struct{})

	c.mu.Lock()
	c.cmd = cmd
	c.exited = exited
	c.exitErr = nil
	c.stopping = false
	c.mu.Unlock()

	go c.wait(cmd, exited, stdout, stderr)

	c.logger.Infof("Launched %s (pid %d)", c.cfg.Command, cmd.Process.Pid)

	select {
	case <-exited:
		c.mu.Lock()
		exitErr := c.exitErr
		c.cmd = nil
		c.mu.Unlock()

		return unit.NewError(c.cfg.ID, unit.ErrorKindDatatype, fmt.Errorf("%w: %v", ErrExitedDuringStart, exitErr))
	case <-time.After(c.cfg.StartGracePeriod):
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited

		c.mu.Lock()
		c.cmd = nil
		c.mu.Unlock()

		return ctx.Err()
	}
}

func (c *Controller) wait(cmd *exec.Cmd, exited chan struct{}, outputs ...io.Closer) {
	err := cmd.Wait()

	for _, output := range outputs {
		_ = output.Close()
	}

	c.mu.Lock()
	c.exitErr = err
	expected := c.stopping
	c.mu.Unlock()

	if !expected {
		c.logger.Warnf("Process exited: %v", err)
	}

	close(exited)
}

// Stop terminates the command and, on DisableSync, removes the data dir.
func (c *Controller) Stop(ctx context.Context, reason unit.ShutdownReason) error {
	c.mu.Lock()
	cmd, exited := c.cmd, c.exited
	c.stopping = true
	c.mu.Unlock()

	if cmd != nil {
		c.terminate(ctx, cmd, exited)

		c.mu.Lock()
		c.cmd = nil
		c.mu.Unlock()
	}

	if reason.Purges() && c.cfg.DataDir != "" {
		if err := os.RemoveAll(c.cfg.DataDir); err != nil {
			return fmt.Errorf("purge %s: %w", c.cfg.DataDir, err)
		}

		c.logger.Infof("Purged %s", c.cfg.DataDir)
	}

	return nil
}

func (c *Controller) terminate(ctx context.Context, cmd *exec.Cmd, exited chan struct{}) {
	select {
	case <-exited:
		return
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		c.logger.Debugf("SIGTERM failed: %v", err)
	}

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-exited:
		return
	case <-timer.C:
		c.logger.Warnf("Process did not stop within %s, killing it", c.cfg.StopTimeout)
	case <-ctx.Done():
	}

	_ = cmd.Process.Kill()
	<-exited
}

// Running reports whether the command is alive.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return false
	}

	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// lineLogger forwards the command's output line by line.
func (c *Controller) lineLogger(stream string) *io.PipeWriter {
	reader, writer := io.Pipe()
	logger := c.logger.With("stream", stream)

	go func() {
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			logger.Info(scanner.Text())
		}
		// Keep the command from blocking on output the scanner gave up on.
		_, _ = io.Copy(io.Discard, reader)
	}()

	return writer
}
