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

// Package sqlite stores the status table in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/statustable"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/unit"
)

//go:embed migrations/*.sql
var migrations embed.FS

const openAttempts = 5

// Store is a statusstore.Store backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Open opens or creates the database at path and applies pending migrations.
func Open(ctx context.Context, path string, logger *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create status directory: %w", err)
	}

	var db *sql.DB

	open := func() error {
		candidate, err := sql.Open("sqlite", path)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("open status db: %w", err))
		}

		if err := candidate.PingContext(ctx); err != nil {
			_ = candidate.Close()
			logger.Debugf("Status db %s not reachable yet: %v", path, err)

			return fmt.Errorf("ping status db: %w", err)
		}

		db = candidate

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), openAttempts), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return nil, err
	}

	// A single connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	logger.Infof("Status db ready at %s", path)

	return &Store{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Load returns all stored entries.
func (s *Store) Load(ctx context.Context) (statustable.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT unit_id, kind, message FROM unit_status ORDER BY unit_id`)
	if err != nil {
		return nil, fmt.Errorf("query unit status: %w", err)
	}
	defer rows.Close()

	snapshot := statustable.Snapshot{}

	for rows.Next() {
		var id, kind, message string
		if err := rows.Scan(&id, &kind, &message); err != nil {
			return nil, fmt.Errorf("scan unit status: %w", err)
		}

		parsed, err := unit.ParseErrorKind(kind)
		if err != nil {
			s.logger.Warnf("Skipping stored status of unit %s: %v", id, err)

			continue
		}

		snapshot[unit.ID(id)] = statustable.Entry{Kind: parsed, Message: message}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit status: %w", err)
	}

	return snapshot, nil
}

// Save replaces the stored entries with snapshot in one transaction.
func (s *Store) Save(ctx context.Context, snapshot statustable.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_status`); err != nil {
		return fmt.Errorf("clear unit status: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	for id, entry := range snapshot {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unit_status (unit_id, kind, message, updated_at) VALUES (?, ?, ?, ?)`,
			string(id), entry.Kind.String(), entry.Message, now,
		); err != nil {
			return fmt.Errorf("store status of unit %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}
