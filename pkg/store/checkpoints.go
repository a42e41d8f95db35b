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
	"time"
)

// CheckpointRow is the Store's at-rest shape for a checkpoint; pkg/checkpoint
// builds the verify/recovery semantics on top of this DAO.
type CheckpointRow struct {
	CheckpointID   string
	TaskID         string
	SequenceNumber int64
	CheckpointType string
	Snapshot       map[string]any
	EvidencePack   map[string]any
	WorkItemID     string
	CreatedAt      time.Time
	VerifiedAt     *time.Time
}

// InsertCheckpoint appends a checkpoint row. SequenceNumber must be
// monotonically increasing per task; the unique index on (task_id,
// sequence_number) enforces that at the database layer.
func (s *Store) InsertCheckpoint(ctx context.Context, row CheckpointRow) error {
	snapshot, err := json.Marshal(row.Snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal checkpoint snapshot: %w", err)
	}
	evidence, err := json.Marshal(row.EvidencePack)
	if err != nil {
		return fmt.Errorf("store: marshal checkpoint evidence pack: %w", err)
	}
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.write.ExecContext(ctx, `
INSERT INTO checkpoints (checkpoint_id, task_id, sequence_number, checkpoint_type, snapshot_json, evidence_pack_json, work_item_id, created_at, verified_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, row.CheckpointID, row.TaskID, row.SequenceNumber, row.CheckpointType, string(snapshot), string(evidence), row.WorkItemID, createdAt, row.VerifiedAt)
	if err != nil {
		return fmt.Errorf("store: insert checkpoint %s: %w", row.CheckpointID, err)
	}
	return nil
}

// MarkCheckpointVerified stamps verified_at, meaning every piece of
// evidence in the pack checked out against current state at that time.
func (s *Store) MarkCheckpointVerified(ctx context.Context, checkpointID string, at time.Time) error {
	_, err := s.write.ExecContext(ctx, `UPDATE checkpoints SET verified_at = ? WHERE checkpoint_id = ?`, at, checkpointID)
	if err != nil {
		return fmt.Errorf("store: mark checkpoint %s verified: %w", checkpointID, err)
	}
	return nil
}

// LatestCheckpoint returns the highest-sequence checkpoint for a task, or
// nil if none exists.
func (s *Store) LatestCheckpoint(ctx context.Context, taskID string) (*CheckpointRow, error) {
	row := s.read.QueryRowContext(ctx, `
SELECT checkpoint_id, task_id, sequence_number, checkpoint_type, snapshot_json, evidence_pack_json, work_item_id, created_at, verified_at
FROM checkpoints WHERE task_id = ? ORDER BY sequence_number DESC LIMIT 1
`, taskID)
	r, err := scanCheckpointRow(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest checkpoint for task %s: %w", taskID, err)
	}
	return r, nil
}

// NextCheckpointSequence returns the next sequence number for a task (1 if
// none exist yet).
func (s *Store) NextCheckpointSequence(ctx context.Context, taskID string) (int64, error) {
	var maxSeq *int64
	row := s.read.QueryRowContext(ctx, `SELECT MAX(sequence_number) FROM checkpoints WHERE task_id = ?`, taskID)
	if err := row.Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("store: next checkpoint sequence for task %s: %w", taskID, err)
	}
	if maxSeq == nil {
		return 1, nil
	}
	return *maxSeq + 1, nil
}

func scanCheckpointRow(s rowScanner) (*CheckpointRow, error) {
	var r CheckpointRow
	var snapshot, evidence string
	if err := s.Scan(&r.CheckpointID, &r.TaskID, &r.SequenceNumber, &r.CheckpointType, &snapshot, &evidence, &r.WorkItemID, &r.CreatedAt, &r.VerifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snapshot), &r.Snapshot); err != nil {
		return nil, fmt.Errorf("store: unmarshal checkpoint snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(evidence), &r.EvidencePack); err != nil {
		return nil, fmt.Errorf("store: unmarshal checkpoint evidence pack: %w", err)
	}
	return &r, nil
}
