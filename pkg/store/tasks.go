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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/meridianstack/orchestrator/pkg/task"
)

// TaskRow is the Store's at-rest projection of a task.Task.
type TaskRow struct {
	TaskID     string
	Title      string
	Status     task.Status
	RunMode    task.RunMode
	ExitReason task.ExitReason
	Metadata   task.Metadata
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertTask inserts or updates a task by its natural key (task_id),
// satisfying spec.md's "upserts for entities by natural key (idempotent)".
func (s *Store) UpsertTask(ctx context.Context, row TaskRow) error {
	metaJSON, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal task metadata: %w", err)
	}
	now := row.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err = s.write.ExecContext(ctx, `
INSERT INTO tasks (task_id, title, status, run_mode, exit_reason, metadata_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
	title = excluded.title,
	status = excluded.status,
	run_mode = excluded.run_mode,
	exit_reason = excluded.exit_reason,
	metadata_json = excluded.metadata_json,
	updated_at = excluded.updated_at
`, row.TaskID, row.Title, string(row.Status), string(row.RunMode), string(row.ExitReason), string(metaJSON), row.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("store: upsert task %s: %w", row.TaskID, err)
	}
	return nil
}

// GetTask reads a single task row. It returns (nil, nil) if the row or
// table does not exist, per spec.md's not-found-is-empty failure semantics.
func (s *Store) GetTask(ctx context.Context, taskID string) (*TaskRow, error) {
	row := s.read.QueryRowContext(ctx, `
SELECT task_id, title, status, run_mode, exit_reason, metadata_json, created_at, updated_at
FROM tasks WHERE task_id = ?
`, taskID)
	r, err := scanTaskRow(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", taskID, err)
	}
	return r, nil
}

// ListTasksByStatus streams tasks in a given status, oldest-updated first.
func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status) iter.Seq2[*TaskRow, error] {
	return func(yield func(*TaskRow, error) bool) {
		rows, err := s.read.QueryContext(ctx, `
SELECT task_id, title, status, run_mode, exit_reason, metadata_json, created_at, updated_at
FROM tasks WHERE status = ? ORDER BY updated_at ASC
`, string(status))
		if err != nil {
			yield(nil, fmt.Errorf("store: list tasks by status: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanTaskRow(rows)
			if !yield(r, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(s rowScanner) (*TaskRow, error) {
	var r TaskRow
	var status, runMode, exitReason, metaJSON string
	if err := s.Scan(&r.TaskID, &r.Title, &status, &runMode, &exitReason, &metaJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = task.Status(status)
	r.RunMode = task.RunMode(runMode)
	r.ExitReason = task.ExitReason(exitReason)
	if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
		return nil, fmt.Errorf("store: unmarshal task metadata: %w", err)
	}
	return &r, nil
}
