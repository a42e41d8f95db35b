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

package policy

import (
	"context"
	"testing"
	"time"

	"github.com/meridianstack/orchestrator/pkg/decision"
	"github.com/meridianstack/orchestrator/pkg/gate"
	"github.com/meridianstack/orchestrator/pkg/risk"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/task"
)

func newTestPC(t *testing.T, taskID, eventType string, payload map[string]any) *PolicyContext {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now().UTC()
	if err := s.UpsertTask(context.Background(), store.TaskRow{
		TaskID:    taskID,
		Title:     "a task",
		Status:    task.StatusCreated,
		RunMode:   task.RunModeAssisted,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	return &PolicyContext{
		Ctx:   context.Background(),
		Event: &store.InboxRow{EventID: "ev-1", TaskID: taskID, EventType: eventType, Payload: payload, ReceivedAt: now},
		Store: s,
		Decisions:  decision.NewRecorder(s),
		RiskScorer: risk.NewScorer(risk.NewTimeline(s)),
		PauseGate:  gate.PauseGate{},
	}
}

func TestOnTaskCreatedAllowsPlainTask(t *testing.T) {
	pc := newTestPC(t, "t1", "task.created", map[string]any{"title": "a task"})
	verdict, _, err := OnTaskCreated{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictAllow {
		t.Fatalf("verdict = %s, want ALLOW", verdict)
	}
	row, err := pc.Store.GetTask(pc.Ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.Status != task.StatusCreated {
		t.Fatalf("status = %s, want unchanged created", row.Status)
	}
}

func TestOnTaskCreatedBlocksHighRiskIntent(t *testing.T) {
	pc := newTestPC(t, "t2", "task.created", map[string]any{
		"intent_set":     []any{"delete_prod_db"},
		"error_rate":     1.0,
		"resource_usage": 1.0,
		"write_ratio":    1.0,
		"external_call":  1.0,
		"security_score": 1.0,
	})
	verdict, rules, err := OnTaskCreated{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK", verdict)
	}
	if len(rules) == 0 {
		t.Fatal("expected at least one triggered rule")
	}
	row, err := pc.Store.GetTask(pc.Ctx, "t2")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.Status != task.StatusBlocked {
		t.Fatalf("status = %s, want blocked", row.Status)
	}
	if row.ExitReason != task.ExitBlocked {
		t.Fatalf("exit_reason = %s, want blocked", row.ExitReason)
	}
}

func TestOnTaskCreatedBlocksRedlineViolation(t *testing.T) {
	pc := newTestPC(t, "t3", "task.created", map[string]any{
		"role_spec": gate.RoleSpec{Name: "ops", HasExecutableField: true},
	})
	pc.Redline = []gate.RedlineValidator{gate.RoleValidator{}}

	verdict, rules, err := OnTaskCreated{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK", verdict)
	}
	found := false
	for _, r := range rules {
		if r == "redline_role" {
			found = true
		}
	}
	if !found {
		t.Fatalf("rules = %v, want redline_role", rules)
	}
}

func TestOnStepCompletedPausesOnHighRisk(t *testing.T) {
	pc := newTestPC(t, "t4", "task.step_completed", map[string]any{
		"error_rate":     1.0,
		"resource_usage": 1.0,
		"security_score": 1.0,
		"write_ratio":    1.0,
		"external_call":  1.0,
		"run_id":         "run-1",
	})
	verdict, rules, err := OnStepCompleted{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictPause {
		t.Fatalf("verdict = %s, want PAUSE", verdict)
	}
	hasEnforcer := false
	for _, r := range rules {
		if r == "runtime_enforcer_checked" {
			hasEnforcer = true
		}
	}
	if !hasEnforcer {
		t.Fatalf("rules = %v, want runtime_enforcer_checked", rules)
	}
	row, err := pc.Store.GetTask(pc.Ctx, "t4")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.Status != task.StatusAwaitingApproval {
		t.Fatalf("status = %s, want awaiting_approval", row.Status)
	}
}

func TestOnStepCompletedAllowsLowRisk(t *testing.T) {
	pc := newTestPC(t, "t5", "task.step_completed", map[string]any{})
	verdict, _, err := OnStepCompleted{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictAllowWithAudit {
		t.Fatalf("verdict = %s, want ALLOW_WITH_AUDIT", verdict)
	}
}

func TestOnTaskFailedRetriesWithinBudget(t *testing.T) {
	pc := newTestPC(t, "t6", "task.failed", map[string]any{
		"retry_count":    1.0,
		"max_retries":    3.0,
		"error_category": "network",
		"error_message":  "connection reset",
	})
	verdict, _, err := OnTaskFailed{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictRetry {
		t.Fatalf("verdict = %s, want RETRY", verdict)
	}
	row, err := pc.Store.GetTask(pc.Ctx, "t6")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.Status == task.StatusBlocked {
		t.Fatal("task should not be blocked while retry budget remains")
	}
}

func TestOnTaskFailedBlocksNonRetryable(t *testing.T) {
	pc := newTestPC(t, "t7", "task.failed", map[string]any{
		"retry_count":    0.0,
		"max_retries":    3.0,
		"error_category": "auth",
		"error_message":  "invalid credentials",
	})
	verdict, rules, err := OnTaskFailed{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK", verdict)
	}
	found := false
	for _, r := range rules {
		if r == "category_non_retryable" {
			found = true
		}
	}
	if !found {
		t.Fatalf("rules = %v, want category_non_retryable", rules)
	}
	row, err := pc.Store.GetTask(pc.Ctx, "t7")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.Status != task.StatusBlocked {
		t.Fatalf("status = %s, want blocked", row.Status)
	}
}

func TestOnTaskFailedBlocksExhaustedRetryBudget(t *testing.T) {
	pc := newTestPC(t, "t8", "task.failed", map[string]any{
		"retry_count":    4.0,
		"max_retries":    3.0,
		"error_category": "network",
	})
	verdict, rules, err := OnTaskFailed{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK", verdict)
	}
	found := false
	for _, r := range rules {
		if r == "retry_budget_exhausted" {
			found = true
		}
	}
	if !found {
		t.Fatalf("rules = %v, want retry_budget_exhausted", rules)
	}
}

func TestOnModeViolationEscalatesErrorSeverity(t *testing.T) {
	pc := newTestPC(t, "t9", "mode.violation", map[string]any{"severity": "error"})
	verdict, _, err := OnModeViolation{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictRequireReview {
		t.Fatalf("verdict = %s, want REQUIRE_REVIEW", verdict)
	}
	row, err := pc.Store.GetTask(pc.Ctx, "t9")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.Status != task.StatusVerifying {
		t.Fatalf("status = %s, want verifying", row.Status)
	}
}

func TestOnModeViolationDoesNotReopenTerminalTask(t *testing.T) {
	pc := newTestPC(t, "t10", "mode.violation", map[string]any{"severity": "critical"})
	now := time.Now().UTC()
	if err := pc.Store.UpsertTask(pc.Ctx, store.TaskRow{
		TaskID:     "t10",
		Title:      "a task",
		Status:     task.StatusBlocked,
		RunMode:    task.RunModeAutonomous,
		ExitReason: task.ExitBlocked,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	verdict, _, err := OnModeViolation{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictRequireReview {
		t.Fatalf("verdict = %s, want REQUIRE_REVIEW", verdict)
	}
	row, err := pc.Store.GetTask(pc.Ctx, "t10")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.Status != task.StatusBlocked {
		t.Fatalf("status = %s, want still blocked (terminal guard should prevent reopen)", row.Status)
	}
}

func TestOnModeViolationAllowsInfoSeverity(t *testing.T) {
	pc := newTestPC(t, "t11", "mode.violation", map[string]any{"severity": "info"})
	verdict, _, err := OnModeViolation{}.Handle(pc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if verdict != decision.VerdictAllowWithAudit {
		t.Fatalf("verdict = %s, want ALLOW_WITH_AUDIT", verdict)
	}
}
