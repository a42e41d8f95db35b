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

// Package policy implements the Supervisor's governance policies: each
// one evaluates a single deduplicated inbox event and records a verdict.
// Policies never touch the inbox transaction directly — the Supervisor's
// consumer loop does that — so every Handle call here is free of
// database-transaction bookkeeping.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianstack/orchestrator/pkg/decision"
	"github.com/meridianstack/orchestrator/pkg/gate"
	"github.com/meridianstack/orchestrator/pkg/risk"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/task"
)

// PolicyContext is everything a Policy needs to evaluate one inbox event
// and record its decision, threaded through rather than making Policy
// implementations reach back into package globals.
type PolicyContext struct {
	Ctx         context.Context
	Event       *store.InboxRow
	Store       *store.Store
	Decisions   *decision.Recorder
	RiskScorer  *risk.Scorer
	PauseGate   gate.PauseGate
	Redline     []gate.RedlineValidator
}

// Policy evaluates one inbox event and returns the verdict it reached.
// Implementations must be safe to call from within the same database
// transaction as the inbox status update (spec.md §4.8's atomicity
// requirement); none of the shipped policies open their own transactions.
type Policy interface {
	Name() string
	Handle(pc *PolicyContext) (decision.Verdict, []string, error)
}

// auditOutcome is a convenience constructor for the outputs map every
// policy passes to the decision recorder.
func auditOutcome(verdict decision.Verdict, detail string) map[string]any {
	return map[string]any{"verdict": string(verdict), "detail": detail}
}

func recordAndAudit(pc *PolicyContext, policyName string, inputs map[string]any, rules []string, verdict decision.Verdict, detail string) error {
	seed := fmt.Sprintf("%s:%s:%s", policyName, pc.Event.TaskID, pc.Event.EventID)
	if _, err := pc.Decisions.Record(pc.Ctx, policyName, seed, inputs, auditOutcome(verdict, detail), rules, verdict, 1.0); err != nil {
		return fmt.Errorf("supervisor: record decision for %s: %w", policyName, err)
	}
	level := store.AuditInfo
	switch verdict {
	case decision.VerdictBlock, decision.VerdictRequireReview:
		level = store.AuditError
	case decision.VerdictPause, decision.VerdictRetry:
		level = store.AuditWarn
	}
	if err := pc.Store.AppendAudit(pc.Ctx, store.AuditEntry{
		TaskID:    pc.Event.TaskID,
		Level:     level,
		EventType: "supervisor." + policyName,
		Payload:   map[string]any{"verdict": string(verdict), "detail": detail, "rules_triggered": rules},
	}); err != nil {
		return fmt.Errorf("supervisor: audit %s: %w", policyName, err)
	}
	return nil
}

// markTaskStatus flips the subject task's persisted status and exit
// reason directly. This is a governance escalation, not a Runner drive
// step, so it deliberately bypasses task.IsLegalTransition: a policy may
// need to move a task straight to blocked/verifying from whatever state
// it was last persisted in, which the Runner's own state machine (scoped
// to its own drive loop) never needs to express.
func markTaskStatus(pc *PolicyContext, status, reasonDetail string) error {
	row, err := pc.Store.GetTask(pc.Ctx, pc.Event.TaskID)
	if err != nil {
		return fmt.Errorf("policy: load task %s: %w", pc.Event.TaskID, err)
	}
	if row == nil || row.Status.IsTerminal() {
		// A task the Runner already moved to a terminal status (e.g. its
		// own autonomous-blocked escape edge) is not reopened by a
		// governance escalation arriving after the fact; the decision and
		// audit trail above still record that the policy ran.
		return nil
	}
	row.Status = task.Status(status)
	if status == "blocked" {
		row.ExitReason = task.ExitBlocked
	}
	row.UpdatedAt = time.Now().UTC()
	if err := pc.Store.UpsertTask(pc.Ctx, *row); err != nil {
		return fmt.Errorf("policy: mark task %s %s: %w", pc.Event.TaskID, status, err)
	}
	return pc.Store.AppendLineage(pc.Ctx, store.LineageEntry{
		TaskID: pc.Event.TaskID,
		Kind:   store.LineagePauseCheckpoint,
		RefID:  pc.Event.EventID,
		Phase:  status,
		Metadata: map[string]any{"reason": reasonDetail},
	})
}

// recordPauseCheckpoint records the pause_checkpoint lineage entry for a
// PAUSE verdict at the only legal pause checkpoint, and flips the task's
// persisted status to awaiting_approval if its run mode actually permits
// pausing there; an autonomous task is blocked instead, per gate.PauseGate.
func recordPauseCheckpoint(pc *PolicyContext) error {
	row, err := pc.Store.GetTask(pc.Ctx, pc.Event.TaskID)
	if err != nil {
		return fmt.Errorf("policy: load task %s: %w", pc.Event.TaskID, err)
	}
	if row == nil {
		return nil
	}
	if gate.IsAutonomousBlocked(gate.OpenPlanCheckpoint, row.RunMode) {
		return markTaskStatus(pc, "blocked", "pause_required_but_autonomous")
	}
	if !pc.PauseGate.CanPauseAt(gate.OpenPlanCheckpoint, row.RunMode) {
		return nil
	}
	row.Status = task.StatusAwaitingApproval
	row.Metadata.PauseState = &task.PauseState{
		Checkpoint: gate.OpenPlanCheckpoint,
		Reason:     "supervisor_pause_verdict",
		PausedAt:   time.Now().UTC(),
	}
	row.UpdatedAt = time.Now().UTC()
	if err := pc.Store.UpsertTask(pc.Ctx, *row); err != nil {
		return fmt.Errorf("policy: pause task %s: %w", pc.Event.TaskID, err)
	}
	return pc.Store.AppendLineage(pc.Ctx, store.LineageEntry{
		TaskID: pc.Event.TaskID,
		Kind:   store.LineagePauseCheckpoint,
		RefID:  pc.Event.EventID,
		Phase:  gate.OpenPlanCheckpoint,
	})
}
