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

package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianstack/orchestrator/pkg/store"
)

// Manager orchestrates checkpoint creation, verification, and recovery for
// one task's runner, on top of pkg/store's checkpoint DAO.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// NewManager constructs a Manager over s.
func NewManager(s *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger}
}

// BeginStep allocates the next sequence number for taskID and persists an
// unverified checkpoint. The runner calls this before starting a unit of
// work so a crash mid-step still leaves a trail.
func (m *Manager) BeginStep(ctx context.Context, taskID, workItemID string, checkpointType Type, snapshot map[string]any) (*State, error) {
	seq, err := m.store.NextCheckpointSequence(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: begin step for task %s: %w", taskID, err)
	}
	s := &State{
		CheckpointID:   uuid.NewString(),
		TaskID:         taskID,
		WorkItemID:     workItemID,
		SequenceNumber: seq,
		CheckpointType: checkpointType,
		Snapshot:       snapshot,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.InsertCheckpoint(ctx, store.CheckpointRow{
		CheckpointID:   s.CheckpointID,
		TaskID:         s.TaskID,
		SequenceNumber: s.SequenceNumber,
		CheckpointType: string(s.CheckpointType),
		Snapshot:       s.Snapshot,
		WorkItemID:     s.WorkItemID,
		CreatedAt:      s.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("checkpoint: insert checkpoint for task %s: %w", taskID, err)
	}
	return s, nil
}

// CommitStep attaches an evidence pack to s and runs Verify against it. On
// success the checkpoint is stamped verified in the Store, making it a
// legal recovery point.
func (m *Manager) CommitStep(ctx context.Context, s *State, evidence map[string]any) error {
	s.EvidencePack = evidence
	if err := m.Verify(s); err != nil {
		return err
	}
	verifiedAt := time.Now().UTC()
	if err := m.store.MarkCheckpointVerified(ctx, s.CheckpointID, verifiedAt); err != nil {
		return fmt.Errorf("checkpoint: mark %s verified: %w", s.CheckpointID, err)
	}
	s.VerifiedAt = &verifiedAt
	return nil
}

// Verify checks the evidence pack against the snapshot's declared
// expectations. A checkpoint with no "expect" key in its evidence pack
// trivially verifies; an explicit mismatch between expect and the
// corresponding snapshot key fails it.
func (m *Manager) Verify(s *State) error {
	expect, ok := s.EvidencePack["expect"].(map[string]any)
	if !ok {
		return nil
	}
	for k, want := range expect {
		got, present := s.Snapshot[k]
		if !present || fmt.Sprint(got) != fmt.Sprint(want) {
			return fmt.Errorf("checkpoint: verify %s: evidence mismatch on %q: want %v, got %v", s.CheckpointID, k, want, got)
		}
	}
	return nil
}

// Recover loads the most recent checkpoint for taskID and returns it only
// if it is recoverable (verified, not an error checkpoint). It returns
// (nil, nil) if there is nothing to recover from.
func (m *Manager) Recover(ctx context.Context, taskID string) (*State, error) {
	row, err := m.store.LatestCheckpoint(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: recover task %s: %w", taskID, err)
	}
	if row == nil {
		return nil, nil
	}
	s := &State{
		CheckpointID:   row.CheckpointID,
		TaskID:         row.TaskID,
		WorkItemID:     row.WorkItemID,
		SequenceNumber: row.SequenceNumber,
		CheckpointType: Type(row.CheckpointType),
		Snapshot:       row.Snapshot,
		EvidencePack:   row.EvidencePack,
		CreatedAt:      row.CreatedAt,
		VerifiedAt:     row.VerifiedAt,
	}
	if !s.IsRecoverable() {
		m.logger.Warn("checkpoint: latest checkpoint is not recoverable", "task_id", taskID, "checkpoint_id", s.CheckpointID)
		return nil, nil
	}
	return s, nil
}
