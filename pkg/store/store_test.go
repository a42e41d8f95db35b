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
	"testing"
	"time"

	"github.com/meridianstack/orchestrator/pkg/orcherr"
	"github.com/meridianstack/orchestrator/pkg/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	row := TaskRow{
		TaskID:    "t1",
		Title:     "fix the bug",
		Status:    task.StatusCreated,
		RunMode:   task.RunModeAssisted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.UpsertTask(ctx, row); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil || got.Title != "fix the bug" || got.Status != task.StatusCreated {
		t.Fatalf("GetTask returned %+v", got)
	}

	row.Status = task.StatusPlanning
	row.UpdatedAt = now.Add(time.Minute)
	if err := s.UpsertTask(ctx, row); err != nil {
		t.Fatalf("UpsertTask (update): %v", err)
	}
	got, err = s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusPlanning {
		t.Fatalf("expected status planning after update, got %s", got.Status)
	}
}

func TestGetTaskNotFoundReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetTask(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for missing row, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil row, got %+v", got)
	}
}

func TestInsertInboxEventDedupesByEventID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := InboxRow{EventID: "evt-1", TaskID: "t1", EventType: "task.progress", Source: InboxSourceEventBus}
	if err := s.InsertInboxEvent(ctx, row); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertInboxEvent(ctx, row)
	if err == nil {
		t.Fatal("expected duplicate event error on second insert")
	}
	if !orcherr.IsDuplicateEvent(err) {
		t.Fatalf("expected orcherr.IsDuplicateEvent to match, got %v", err)
	}

	backlog, err := s.Backlog(ctx)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if backlog.Pending != 1 {
		t.Fatalf("expected exactly one inbox row, got %d pending", backlog.Pending)
	}
}

func TestTryAcquireLeaseIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.TryAcquireLease(ctx, "wi-1", "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = s.TryAcquireLease(ctx, "wi-1", "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to fail while lease is held")
	}

	if err := s.ReleaseLease(ctx, "wi-1", "worker-a"); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	ok, err = s.TryAcquireLease(ctx, "wi-1", "worker-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestCheckpointSequenceIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seq, err := s.NextCheckpointSequence(ctx, "t1")
	if err != nil {
		t.Fatalf("NextCheckpointSequence: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected first sequence to be 1, got %d", seq)
	}

	if err := s.InsertCheckpoint(ctx, CheckpointRow{
		CheckpointID:   "cp1",
		TaskID:         "t1",
		SequenceNumber: seq,
		CheckpointType: "planning_complete",
	}); err != nil {
		t.Fatalf("InsertCheckpoint: %v", err)
	}

	next, err := s.NextCheckpointSequence(ctx, "t1")
	if err != nil {
		t.Fatalf("NextCheckpointSequence: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected next sequence to be 2, got %d", next)
	}

	latest, err := s.LatestCheckpoint(ctx, "t1")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if latest == nil || latest.CheckpointID != "cp1" {
		t.Fatalf("expected latest checkpoint cp1, got %+v", latest)
	}
}

func TestLedgerEntryReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, found, err := s.GetLedgerEntry(ctx, "t1", "fp-1")
	if err != nil {
		t.Fatalf("GetLedgerEntry: %v", err)
	}
	if found {
		t.Fatal("expected miss before first put")
	}

	if err := s.PutLedgerEntry(ctx, "t1", "fp-1", `{"diff":"..."}`, 0); err != nil {
		t.Fatalf("PutLedgerEntry: %v", err)
	}
	resultJSON, exitCode, found, err := s.GetLedgerEntry(ctx, "t1", "fp-1")
	if err != nil {
		t.Fatalf("GetLedgerEntry: %v", err)
	}
	if !found || exitCode != 0 || resultJSON == "" {
		t.Fatalf("expected replay hit, got found=%v exitCode=%d result=%q", found, exitCode, resultJSON)
	}
}

func TestAuditIsAppendOnlyOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	entries := []AuditEntry{
		{TaskID: "t1", Level: AuditInfo, EventType: "task.created", TS: base},
		{TaskID: "t1", Level: AuditInfo, EventType: "task.planning", TS: base.Add(time.Second)},
	}
	for _, e := range entries {
		if err := s.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	var gotTypes []string
	for e, err := range s.ListAudit(ctx, "t1") {
		if err != nil {
			t.Fatalf("ListAudit: %v", err)
		}
		gotTypes = append(gotTypes, e.EventType)
	}
	if len(gotTypes) != 2 || gotTypes[0] != "task.created" || gotTypes[1] != "task.planning" {
		t.Fatalf("expected ordered audit entries, got %v", gotTypes)
	}
}
