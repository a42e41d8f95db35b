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
)

// LineageKind enumerates what a lineage entry records.
type LineageKind string

const (
	LineagePipeline         LineageKind = "pipeline"
	LineageRunnerSpawn      LineageKind = "runner_spawn"
	LineageRunnerExit       LineageKind = "runner_exit"
	LineagePauseCheckpoint  LineageKind = "pause_checkpoint"
	LineageExecutionRequest LineageKind = "execution_request"
	LineageArtifact         LineageKind = "artifact"
	LineageCommit           LineageKind = "commit"
	LineageGateResult       LineageKind = "gate_result"
)

// LineageEntry traces what produced what for a task.
type LineageEntry struct {
	TaskID    string
	Kind      LineageKind
	RefID     string
	Phase     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// AppendLineage inserts a lineage row. Append-only, like audit.
func (s *Store) AppendLineage(ctx context.Context, e LineageEntry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal lineage metadata: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.write.ExecContext(ctx, `
INSERT INTO lineage_entries (task_id, kind, ref_id, phase, metadata_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, e.TaskID, string(e.Kind), e.RefID, e.Phase, string(metaJSON), createdAt)
	if err != nil {
		return fmt.Errorf("store: append lineage for task %s: %w", e.TaskID, err)
	}
	return nil
}

// ListLineage streams lineage entries for a task in insertion order.
func (s *Store) ListLineage(ctx context.Context, taskID string) iter.Seq2[*LineageEntry, error] {
	return func(yield func(*LineageEntry, error) bool) {
		rows, err := s.read.QueryContext(ctx, `
SELECT task_id, kind, ref_id, phase, metadata_json, created_at
FROM lineage_entries WHERE task_id = ? ORDER BY id ASC
`, taskID)
		if err != nil {
			yield(nil, fmt.Errorf("store: list lineage for task %s: %w", taskID, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var e LineageEntry
			var kind, metaJSON string
			if err := rows.Scan(&e.TaskID, &kind, &e.RefID, &e.Phase, &metaJSON, &e.CreatedAt); err != nil {
				yield(nil, err)
				return
			}
			e.Kind = LineageKind(kind)
			if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
				yield(nil, fmt.Errorf("store: unmarshal lineage metadata: %w", err))
				return
			}
			if !yield(&e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// CountRunnerSpawnsWithoutExit reports how many runner_spawn lineage
// entries for a task have no matching runner_exit, the check backing
// TESTABLE PROPERTY 1's "no task ever has two concurrent runners".
func (s *Store) CountRunnerSpawnsWithoutExit(ctx context.Context, taskID string) (int, error) {
	var spawns, exits int
	row := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM lineage_entries WHERE task_id = ? AND kind = ?`, taskID, string(LineageRunnerSpawn))
	if err := row.Scan(&spawns); err != nil {
		return 0, fmt.Errorf("store: count runner spawns: %w", err)
	}
	row = s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM lineage_entries WHERE task_id = ? AND kind = ?`, taskID, string(LineageRunnerExit))
	if err := row.Scan(&exits); err != nil {
		return 0, fmt.Errorf("store: count runner exits: %w", err)
	}
	return spawns - exits, nil
}
