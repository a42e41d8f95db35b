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
	"testing"

	"github.com/meridianstack/orchestrator/pkg/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s, nil)
}

func TestBeginStepAssignsMonotonicSequenceNumbers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s1, err := m.BeginStep(ctx, "task-1", "wi-1", TypeStep, map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	s2, err := m.BeginStep(ctx, "task-1", "wi-1", TypeStep, map[string]any{"n": 2})
	if err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	if s2.SequenceNumber != s1.SequenceNumber+1 {
		t.Fatalf("expected monotonic sequence, got %d then %d", s1.SequenceNumber, s2.SequenceNumber)
	}
}

func TestCommitStepVerifiesAndMarksRecoverable(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.BeginStep(ctx, "task-1", "wi-1", TypeStep, map[string]any{"files_touched": "3"})
	if err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	if err := m.CommitStep(ctx, s, map[string]any{"expect": map[string]any{"files_touched": "3"}}); err != nil {
		t.Fatalf("CommitStep: %v", err)
	}
	if !s.IsRecoverable() {
		t.Fatal("expected committed checkpoint to be recoverable")
	}
}

func TestCommitStepFailsOnEvidenceMismatch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.BeginStep(ctx, "task-1", "wi-1", TypeStep, map[string]any{"files_touched": "3"})
	if err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	err = m.CommitStep(ctx, s, map[string]any{"expect": map[string]any{"files_touched": "99"}})
	if err == nil {
		t.Fatal("expected a verification error on evidence mismatch")
	}
}

func TestRecoverReturnsLatestVerifiedCheckpoint(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if got, err := m.Recover(ctx, "task-1"); err != nil || got != nil {
		t.Fatalf("expected nothing to recover yet, got %+v, err %v", got, err)
	}

	s, err := m.BeginStep(ctx, "task-1", "wi-1", TypeStep, map[string]any{"ok": "true"})
	if err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	if err := m.CommitStep(ctx, s, nil); err != nil {
		t.Fatalf("CommitStep: %v", err)
	}

	recovered, err := m.Recover(ctx, "task-1")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered == nil || recovered.CheckpointID != s.CheckpointID {
		t.Fatalf("expected to recover checkpoint %s, got %+v", s.CheckpointID, recovered)
	}
}

func TestRecoverSkipsUnverifiedCheckpoint(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.BeginStep(ctx, "task-1", "wi-1", TypeStep, map[string]any{}); err != nil {
		t.Fatalf("BeginStep: %v", err)
	}

	recovered, err := m.Recover(ctx, "task-1")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != nil {
		t.Fatalf("expected no recoverable checkpoint, got %+v", recovered)
	}
}
