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

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/meridianstack/orchestrator/pkg/checkpoint"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/task"
	"github.com/meridianstack/orchestrator/pkg/tooladapter"
)

type stubAdapter struct {
	name   string
	result tooladapter.ToolResult
	err    error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) HealthCheck(context.Context) (tooladapter.HealthReport, error) {
	return tooladapter.HealthReport{Status: tooladapter.HealthConnected}, nil
}

func (a *stubAdapter) Run(context.Context, tooladapter.Task, bool) (tooladapter.ToolResult, error) {
	return a.result, a.err
}

func (a *stubAdapter) Supports() tooladapter.ToolCapabilities {
	return tooladapter.ToolCapabilities{OutputKinds: []tooladapter.OutputKind{tooladapter.OutputDiff}, Provider: tooladapter.ProviderLocal}
}

func newTestRunner(t *testing.T, tools *tooladapter.Registry) (*Runner, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r, err := New(Config{
		Store:        s,
		Checkpoints:  checkpoint.NewManager(s, nil),
		Leases:       checkpoint.NewLeaseManager(s, time.Minute),
		Tools:        tools,
		PollInterval: time.Millisecond,
		WorkerID:     "test-worker",
		ArtifactDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, s
}

func seedWorkItem(t *testing.T, s *store.Store, taskID, itemID, toolName string) {
	t.Helper()
	item := &task.WorkItem{ItemID: itemID, Title: "do the thing", Status: task.WorkItemPending, RoleHint: toolName}
	if err := s.UpsertWorkItem(context.Background(), taskID, item); err != nil {
		t.Fatalf("seed work item: %v", err)
	}
}

func drainRun(r *Runner, ctx context.Context, t *task.Task) ([]*Event, error) {
	var events []*Event
	for ev, err := range r.Run(ctx, t) {
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, ev)
		}
		if t.GetStatus().IsTerminal() {
			break
		}
	}
	return events, nil
}

func TestRunnerDrivesAutonomousTaskToSucceeded(t *testing.T) {
	registry := tooladapter.NewRegistry(nil, nil)
	registry.Register(&stubAdapter{name: "noop", result: tooladapter.ToolResult{
		Status: tooladapter.StatusSuccess, Provider: tooladapter.ProviderLocal, OutputKind: tooladapter.OutputAnalysis, ToolRunID: "run-1",
	}})
	r, s := newTestRunner(t, registry)

	tk := task.New("ship the feature", task.RunModeAutonomous)
	tk.WithMetadata(func(m *task.Metadata) { m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}} })
	seedWorkItem(t, s, tk.ID, "item-1", "noop")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := drainRun(r, ctx, tk)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tk.GetStatus() != task.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", tk.GetStatus())
	}
	if tk.ExitReason != task.ExitDone {
		t.Fatalf("expected exit reason done, got %s", tk.ExitReason)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one progress event")
	}

	row, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row == nil || row.Status != task.StatusSucceeded {
		t.Fatalf("expected persisted task to be succeeded, got %+v", row)
	}

	remaining, err := s.CountRunnerSpawnsWithoutExit(ctx, tk.ID)
	if err != nil {
		t.Fatalf("CountRunnerSpawnsWithoutExit: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected every runner spawn to have a matching exit, got %d unmatched", remaining)
	}
}

func TestRunnerPausesInteractiveTaskWhenApprovalRequired(t *testing.T) {
	registry := tooladapter.NewRegistry(nil, nil)
	r, _ := newTestRunner(t, registry)

	tk := task.New("risky change", task.RunModeInteractive)
	tk.WithMetadata(func(m *task.Metadata) {
		m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}}
		m.Extra = map[string]any{"requires_approval": true}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for ev, err := range r.Run(ctx, tk) {
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if tk.GetStatus() == task.StatusAwaitingApproval {
			break
		}
		_ = ev
	}

	if tk.GetStatus() != task.StatusAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", tk.GetStatus())
	}
	if tk.Snapshot().PauseState == nil {
		t.Fatal("expected a recorded pause state")
	}
}

func TestRunnerBlocksAutonomousTaskWhenApprovalRequired(t *testing.T) {
	registry := tooladapter.NewRegistry(nil, nil)
	r, _ := newTestRunner(t, registry)

	tk := task.New("risky autonomous change", task.RunModeAutonomous)
	tk.WithMetadata(func(m *task.Metadata) {
		m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}}
		m.Extra = map[string]any{"requires_approval": true}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := drainRun(r, ctx, tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tk.GetStatus() != task.StatusBlocked {
		t.Fatalf("expected blocked, got %s", tk.GetStatus())
	}
	if tk.ExitReason != task.ExitBlocked {
		t.Fatalf("expected exit reason blocked, got %s", tk.ExitReason)
	}
}

func TestRunnerFailsWorkItemWhenToolReportsFailure(t *testing.T) {
	registry := tooladapter.NewRegistry(nil, nil)
	registry.Register(&stubAdapter{name: "noop", result: tooladapter.ToolResult{
		Status: tooladapter.StatusFailed, ErrorCategory: tooladapter.CategoryRuntime, ErrorMessage: "boom",
		Provider: tooladapter.ProviderLocal, OutputKind: tooladapter.OutputAnalysis,
	}})
	r, s := newTestRunner(t, registry)

	tk := task.New("doomed task", task.RunModeAutonomous)
	tk.WithMetadata(func(m *task.Metadata) { m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}} })
	seedWorkItem(t, s, tk.ID, "item-1", "noop")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sawFailure bool
	for ev, err := range r.Run(ctx, tk) {
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if ev != nil && ev.Type == EventWorkItemFinished && ev.WorkItem == "item-1" {
			sawFailure = true
		}
		if tk.GetStatus() == task.StatusVerifying || tk.GetStatus().IsTerminal() {
			break
		}
	}
	if !sawFailure {
		t.Fatal("expected a work item finished event for the failed item")
	}

	items, err := s.ListWorkItems(context.Background(), tk.ID)
	_ = items
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	var found *task.WorkItem
	for it, err := range s.ListWorkItems(context.Background(), tk.ID) {
		if err != nil {
			t.Fatalf("ListWorkItems: %v", err)
		}
		if it.ItemID == "item-1" {
			found = it
		}
	}
	if found == nil || found.Status != task.WorkItemFailed {
		t.Fatalf("expected item-1 to be failed, got %+v", found)
	}
}

func TestRunnerCancelsOnCancelSignal(t *testing.T) {
	registry := tooladapter.NewRegistry(nil, nil)
	r, _ := newTestRunner(t, registry)

	tk := task.New("cancel me", task.RunModeAutonomous)
	tk.WithMetadata(func(m *task.Metadata) { m.CancelSignal = true })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := drainRun(r, ctx, tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tk.GetStatus() != task.StatusCanceled {
		t.Fatalf("expected canceled, got %s", tk.GetStatus())
	}
	if tk.ExitReason != task.ExitUserCancelled {
		t.Fatalf("expected exit reason user_cancelled, got %s", tk.ExitReason)
	}
}

func TestRunnerExitsOnMaxIterations(t *testing.T) {
	registry := tooladapter.NewRegistry(nil, nil)
	s, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	r, err := New(Config{
		Store:         s,
		Tools:         registry,
		PollInterval:  time.Millisecond,
		MaxIterations: 1,
		ArtifactDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A task with an unresolvable work item dependency (points at itself's
	// sibling that never completes) stays in "executing" forever without
	// the iteration cap.
	tk := task.New("stuck task", task.RunModeAutonomous)
	tk.WithMetadata(func(m *task.Metadata) { m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}} })
	item := &task.WorkItem{ItemID: "item-1", Title: "blocked", Status: task.WorkItemPending, Dependencies: []string{"missing"}}
	if err := s.UpsertWorkItem(context.Background(), tk.ID, item); err != nil {
		t.Fatalf("seed work item: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := drainRun(r, ctx, tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tk.GetStatus() != task.StatusFailed {
		t.Fatalf("expected failed, got %s", tk.GetStatus())
	}
	if tk.ExitReason != task.ExitMaxIterations {
		t.Fatalf("expected exit reason max_iterations, got %s", tk.ExitReason)
	}
}
