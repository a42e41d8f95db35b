// Copyright 2025 Meridianstack Authors
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

// Package store is the Orchestrator's single embedded relational database:
// one SQLite file owning tasks, audit, lineage, work items, the supervisor
// inbox, checkpoints, leases, the LLM output cache, the tool ledger and
// decision records. All writes go through a single-connection handle to
// enforce the single-writer invariant; reads use a separate pooled
// read-only handle for approximate snapshot isolation over WAL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schema is applied in order; each statement must be idempotent. Adding a
// migration means appending a new versioned entry, never editing one that
// shipped.
var schema = []struct {
	version int
	stmt    string
}{
	{1, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`},
	{2, `CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		run_mode TEXT NOT NULL,
		exit_reason TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`},
	{3, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`},
	{4, `CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		ts TIMESTAMP NOT NULL,
		level TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}'
	)`},
	{5, `CREATE INDEX IF NOT EXISTS idx_audit_task_ts ON audit_entries(task_id, ts)`},
	{6, `CREATE TABLE IF NOT EXISTS lineage_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		ref_id TEXT NOT NULL DEFAULT '',
		phase TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`},
	{7, `CREATE INDEX IF NOT EXISTS idx_lineage_task ON lineage_entries(task_id, id)`},
	{8, `CREATE TABLE IF NOT EXISTS work_items (
		item_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		title TEXT NOT NULL,
		dependencies_json TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		output_json TEXT,
		role_hint TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (task_id, item_id)
	)`},
	{9, `CREATE TABLE IF NOT EXISTS supervisor_inbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		task_id TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		received_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		processed_at TIMESTAMP
	)`},
	{10, `CREATE INDEX IF NOT EXISTS idx_inbox_status ON supervisor_inbox(status, received_at)`},
	{11, `CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		checkpoint_type TEXT NOT NULL,
		snapshot_json TEXT NOT NULL DEFAULT '{}',
		evidence_pack_json TEXT NOT NULL DEFAULT '{}',
		work_item_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		verified_at TIMESTAMP
	)`},
	{12, `CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_task_seq ON checkpoints(task_id, sequence_number)`},
	{13, `CREATE TABLE IF NOT EXISTS leases (
		work_item_id TEXT PRIMARY KEY,
		worker_id TEXT,
		acquired_at TIMESTAMP,
		expires_at TIMESTAMP,
		heartbeat_at TIMESTAMP
	)`},
	{14, `CREATE TABLE IF NOT EXISTS llm_output_cache (
		cache_key TEXT PRIMARY KEY,
		output TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`},
	{15, `CREATE TABLE IF NOT EXISTS tool_ledger (
		task_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		result_json TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		ts TIMESTAMP NOT NULL,
		PRIMARY KEY (task_id, fingerprint)
	)`},
	{16, `CREATE TABLE IF NOT EXISTS decision_records (
		decision_id TEXT PRIMARY KEY,
		decision_type TEXT NOT NULL,
		seed TEXT NOT NULL DEFAULT '',
		inputs_json TEXT NOT NULL DEFAULT '{}',
		outputs_json TEXT NOT NULL DEFAULT '{}',
		rules_triggered_json TEXT NOT NULL DEFAULT '[]',
		final_verdict TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		ts TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'RECORDED',
		record_hash TEXT NOT NULL
	)`},
	{17, `CREATE TABLE IF NOT EXISTS decision_signoffs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		decision_id TEXT NOT NULL,
		signed_by TEXT NOT NULL,
		signed_at TIMESTAMP NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	)`},
	// fts4, not fts5: go-sqlite3 only compiles fts5 in behind the
	// "sqlite_fts5" build tag, and this table needs to work with the
	// driver's default build.
	{18, `CREATE VIRTUAL TABLE IF NOT EXISTS commit_text_fts USING fts4(task_id, ref_id, body)`},
}

// Store wraps two *sql.DB handles over the same SQLite file: a
// single-connection write handle enforcing the single-writer invariant, and
// a pooled read-only handle approximating snapshot isolation over WAL.
type Store struct {
	write  *sql.DB
	read   *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates (if necessary) and opens the database at path, runs schema
// migrations, and returns a ready Store. path may be ":memory:" for tests,
// in which case the read handle shares the same in-process connection
// rather than reopening the file.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	writeDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	write, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("store: open write handle: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	var read *sql.DB
	if path == ":memory:" {
		read = write
	} else {
		readDSN := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL&_busy_timeout=5000", path)
		read, err = sql.Open("sqlite3", readDSN)
		if err != nil {
			write.Close()
			return nil, fmt.Errorf("store: open read handle: %w", err)
		}
		read.SetMaxOpenConns(4)
	}

	s := &Store{write: write, read: read, path: path, logger: logger}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range schema {
		if _, err := s.write.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("store: migration %d: %w", m.version, err)
		}
	}
	for _, m := range schema {
		_, err := s.write.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("store: record migration %d: %w", m.version, err)
		}
	}
	s.logger.Debug("store schema migrated", "path", s.path, "migrations", len(schema))
	return nil
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	var firstErr error
	if s.read != nil && s.read != s.write {
		if err := s.read.Close(); err != nil {
			firstErr = err
		}
	}
	if s.write != nil {
		if err := s.write.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WriteDB exposes the single-writer handle for callers that need a raw
// transaction spanning several of the DAOs in this package (e.g. the
// Supervisor committing an inbox row and a decision record atomically).
func (s *Store) WriteDB() *sql.DB { return s.write }

// ReadDB exposes the pooled read-only handle for parameterised reads.
func (s *Store) ReadDB() *sql.DB { return s.read }

// isNotFound maps sql.ErrNoRows and "no such table" into the Store's
// not-found semantics: spec.md requires a missing table or database on
// first use to behave like an empty result, not a fault.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == sql.ErrNoRows {
		return true
	}
	return strings.Contains(err.Error(), "no such table")
}
