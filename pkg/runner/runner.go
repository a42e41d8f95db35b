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

// Package runner drives one task through the state machine described in
// the Task Runner component design: created -> intent_processing ->
// planning -> {awaiting_approval | executing} -> verifying -> succeeded,
// with the "any -> terminal" escape edges to failed/canceled/blocked.
//
// Run follows the teacher's streaming-iterator shape (iter.Seq2 of events
// and errors, yielded as the task progresses) generalized from an
// agent-conversation loop to a checkpointed, leased, multi-work-item task
// loop.
package runner

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianstack/orchestrator/pkg/checkpoint"
	"github.com/meridianstack/orchestrator/pkg/eventbus"
	"github.com/meridianstack/orchestrator/pkg/gate"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/task"
	"github.com/meridianstack/orchestrator/pkg/tooladapter"
)

// tracer starts one span per driven iteration of a task's state machine.
// Reads the global TracerProvider at call time so pkg/tracing.Setup can
// install a real provider independently of Runner construction order.
func tracer() trace.Tracer {
	return otel.Tracer("github.com/meridianstack/orchestrator/pkg/runner")
}

// iterationCounter counts driven iterations labeled by the status they
// drove, surfaced on /metrics through pkg/tracing's Prometheus bridge.
var iterationCounter = sync.OnceValue(func() metric.Int64Counter {
	c, _ := otel.Meter("github.com/meridianstack/orchestrator/pkg/runner").Int64Counter(
		"orchestrator_runner_iterations_total",
		metric.WithDescription("Total runner iterations driven, labeled by the status they drove."),
	)
	return c
})

// Config carries every dependency the Runner needs. Store and Tools are
// required; everything else has a workable default.
type Config struct {
	Store       *store.Store
	Checkpoints *checkpoint.Manager
	Leases      *checkpoint.LeaseManager
	Tools       *tooladapter.Registry
	Gates       *gate.DoneGateRunner
	Bus         *eventbus.Bus
	Logger      *slog.Logger

	// WorkerID identifies this runner process for lease ownership and
	// lineage attribution. Defaults to a fresh UUID.
	WorkerID string
	// PollInterval is the per-iteration sleep between driving steps.
	// Defaults to 500ms.
	PollInterval time.Duration
	// MaxIterations bounds the driving loop; exceeding it exits the task
	// with ExitMaxIterations rather than spinning forever. Defaults to 500.
	MaxIterations int
	// DefaultHardTimeout seeds a task's TimeoutState when it declares none.
	// Defaults to one hour.
	DefaultHardTimeout time.Duration
	// ArtifactDir is the root directory open_plan.json, work_item_*.json,
	// and work_items_summary.json are written under, one subdirectory per
	// task_id. Defaults to "artifacts".
	ArtifactDir string
}

// Runner drives a single task's lifecycle per spec.md's Task Runner design.
type Runner struct {
	store       *store.Store
	checkpoints *checkpoint.Manager
	leases      *checkpoint.LeaseManager
	tools       *tooladapter.Registry
	gates       *gate.DoneGateRunner
	bus         *eventbus.Bus
	logger      *slog.Logger
	pause       gate.PauseGate

	workerID           string
	pollInterval       time.Duration
	maxIterations      int
	defaultHardTimeout time.Duration
	artifactDir        string
}

// New constructs a Runner, filling in defaults for everything optional.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner: store is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("runner: tool registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 500
	}
	hardTimeout := cfg.DefaultHardTimeout
	if hardTimeout <= 0 {
		hardTimeout = time.Hour
	}
	artifactDir := cfg.ArtifactDir
	if artifactDir == "" {
		artifactDir = "artifacts"
	}

	return &Runner{
		store:              cfg.Store,
		checkpoints:        cfg.Checkpoints,
		leases:             cfg.Leases,
		tools:              cfg.Tools,
		gates:              cfg.Gates,
		bus:                cfg.Bus,
		logger:             logger,
		workerID:           workerID,
		pollInterval:       pollInterval,
		maxIterations:      maxIterations,
		defaultHardTimeout: hardTimeout,
		artifactDir:        artifactDir,
	}, nil
}

// Run drives t through its state machine until it reaches a terminal
// status, yielding a progress Event after every step. The six-step
// per-iteration contract (reload/terminal-check, hard-timeout check,
// cancel check, heartbeat, drive-current-state, sleep) runs once per loop
// pass.
func (r *Runner) Run(ctx context.Context, t *task.Task) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if err := r.recordSpawn(ctx, t); err != nil {
			yield(nil, err)
			return
		}
		defer r.recordExit(ctx, t)

		if recovered, err := r.recoverCheckpoint(ctx, t); err != nil {
			r.logger.Warn("runner: checkpoint recovery failed", "task_id", t.ID, "error", err)
		} else if recovered != nil {
			if !yield(newEvent(t, EventCheckpoint, "", "resumed from checkpoint "+recovered.CheckpointID), nil) {
				return
			}
		}

		r.ensureTimeoutState(t)

		for iteration := 1; ; iteration++ {
			// 1. reload / terminal check
			if t.GetStatus().IsTerminal() {
				yield(newEvent(t, EventDone, "", "task already terminal"), nil)
				return
			}

			// iteration cap
			if iteration > r.maxIterations {
				r.failTask(ctx, t, task.ExitMaxIterations, "exceeded max iterations")
				yield(newEvent(t, EventDone, "", "exceeded max iterations"), nil)
				return
			}

			// 2. hard-timeout check
			if r.isTimedOut(t) {
				r.failTask(ctx, t, task.ExitTimeout, "hard timeout exceeded")
				yield(newEvent(t, EventDone, "", "hard timeout exceeded"), nil)
				return
			}

			// 3. cancel-signal check
			if t.Snapshot().CancelSignal {
				r.cancelTask(ctx, t)
				yield(newEvent(t, EventDone, "", "canceled by cancel signal"), nil)
				return
			}

			// 4. heartbeat update
			r.heartbeat(t)

			// 5. drive current state
			ev, err := r.tracedStep(ctx, t, iteration)
			if err != nil {
				yield(nil, err)
				return
			}
			if ev != nil && !yield(ev, nil) {
				return
			}
			if t.GetStatus().IsTerminal() {
				yield(newEvent(t, EventDone, "", "reached terminal status"), nil)
				return
			}

			// 6. sleep
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-time.After(r.pollInterval):
			}
		}
	}
}

// tracedStep wraps step in a span covering exactly one driven iteration,
// tagged with the task ID, iteration number, and the status being driven.
func (r *Runner) tracedStep(ctx context.Context, t *task.Task, iteration int) (*Event, error) {
	status := string(t.GetStatus())
	ctx, span := tracer().Start(ctx, "runner.iteration", trace.WithAttributes(
		attribute.String("task_id", t.ID),
		attribute.Int("iteration", iteration),
		attribute.String("status", status),
	))
	defer span.End()

	iterationCounter().Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))

	ev, err := r.step(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ev, err
}

// step drives exactly one state transition (or one unit of in-state work)
// and returns the Event describing what happened.
func (r *Runner) step(ctx context.Context, t *task.Task) (*Event, error) {
	switch t.GetStatus() {
	case task.StatusCreated:
		return r.stepIntentProcessing(ctx, t)
	case task.StatusIntentProcessing:
		return r.stepPlanning(ctx, t)
	case task.StatusPlanning:
		return r.stepPlanning(ctx, t)
	case task.StatusAwaitingApproval:
		return r.stepAwaitingApproval(ctx, t)
	case task.StatusExecuting:
		return r.stepExecuting(ctx, t)
	case task.StatusVerifying:
		return r.stepVerifying(ctx, t)
	default:
		return nil, fmt.Errorf("runner: no driver for status %q", t.GetStatus())
	}
}

func (r *Runner) stepIntentProcessing(ctx context.Context, t *task.Task) (*Event, error) {
	if err := t.Transition(task.StatusIntentProcessing); err != nil {
		return nil, err
	}
	r.persist(ctx, t)
	r.appendLineage(ctx, t, store.LineagePipeline, "", "intent_processing", nil)
	if r.bus != nil {
		payload := map[string]any{"title": t.Title, "run_mode": string(t.RunMode)}
		for _, k := range []string{"role_spec", "command_spec", "rule_spec", "intent_set"} {
			if v, ok := t.Snapshot().Extra[k]; ok {
				payload[k] = v
			}
		}
		r.bus.Emit(eventbus.New("task.created", eventbus.SourceCore, eventbus.Entity{Kind: "task", ID: t.ID}, payload))
	}
	return newEvent(t, EventStatusChanged, "", "intent processing started"), nil
}

// stepPlanning advances intent_processing -> planning on first entry, then
// resolves planning -> {awaiting_approval | executing} once a work item
// list exists. The open_plan checkpoint is always taken at the planning/
// execution fork, per the pause red line.
func (r *Runner) stepPlanning(ctx context.Context, t *task.Task) (*Event, error) {
	if t.GetStatus() == task.StatusIntentProcessing {
		if err := t.Transition(task.StatusPlanning); err != nil {
			return nil, err
		}
		r.persist(ctx, t)
		r.appendLineage(ctx, t, store.LineagePipeline, "", "planning", nil)
		return newEvent(t, EventStatusChanged, "", "planning started"), nil
	}

	meta := t.Snapshot()
	var itemIDs []string
	if meta.WorkItemsMetadata != nil {
		itemIDs = meta.WorkItemsMetadata.ItemIDs
	}

	snapshot := map[string]any{"item_count": fmt.Sprint(len(itemIDs))}
	if r.checkpoints != nil {
		if _, err := r.checkpoints.BeginStep(ctx, t.ID, "", checkpoint.TypeOpenPlan, snapshot); err != nil {
			return nil, fmt.Errorf("runner: begin open_plan checkpoint: %w", err)
		}
	}
	r.appendLineage(ctx, t, store.LineagePauseCheckpoint, "", "planning", snapshot)

	if items, err := r.loadWorkItems(ctx, t.ID); err != nil {
		r.logger.Warn("runner: load work items for open_plan artifact", "task_id", t.ID, "error", err)
	} else {
		r.writeOpenPlan(t, items, string(task.StatusPlanning))
	}

	// Whether this plan demands a human look before execution is a property
	// of the plan (risk findings, an explicit request), not of the run
	// mode; run mode only governs whether pausing for it is legal. A plan
	// that doesn't demand approval proceeds straight to executing in every
	// mode, including interactive.
	if requiresApproval(meta) {
		if gate.IsAutonomousBlocked(gate.OpenPlanCheckpoint, t.RunMode) {
			r.blockTask(ctx, t, "plan requires approval but task runs autonomously")
			return newEvent(t, EventBlocked, "", "autonomous task blocked at open_plan"), nil
		}
		if r.pause.CanPauseAt(gate.OpenPlanCheckpoint, t.RunMode) {
			if err := t.Transition(task.StatusAwaitingApproval); err != nil {
				return nil, err
			}
			t.WithMetadata(func(m *task.Metadata) {
				m.PauseState = &task.PauseState{
					Checkpoint: gate.OpenPlanCheckpoint,
					Reason:     "open_plan requires human approval in " + string(t.RunMode) + " mode",
					PausedAt:   time.Now().UTC(),
				}
			})
			r.persist(ctx, t)
			return newEvent(t, EventStatusChanged, "", "paused awaiting plan approval"), nil
		}
	}

	if err := t.Transition(task.StatusExecuting); err != nil {
		return nil, err
	}
	r.persist(ctx, t)
	return newEvent(t, EventStatusChanged, "", "plan approved automatically, executing"), nil
}

// requiresApproval reports whether the plan just checkpointed at open_plan
// demands human sign-off before execution. Callers upstream of the Runner
// (planning, risk scoring) set this via Metadata.Extra["requires_approval"];
// it defaults to false so a plan with no stated opinion runs straight
// through.
func requiresApproval(meta task.Metadata) bool {
	if meta.Extra == nil {
		return false
	}
	v, ok := meta.Extra["requires_approval"].(bool)
	return ok && v
}

// stepAwaitingApproval advances to executing once the caller has cleared
// PauseState, signaling approval. It is a no-op otherwise; the loop's poll
// interval naturally throttles re-checking.
func (r *Runner) stepAwaitingApproval(ctx context.Context, t *task.Task) (*Event, error) {
	if t.Snapshot().PauseState != nil {
		return nil, nil
	}
	if err := t.Transition(task.StatusExecuting); err != nil {
		return nil, err
	}
	r.persist(ctx, t)
	return newEvent(t, EventStatusChanged, "", "plan approved, executing"), nil
}

// stepExecuting runs every ready, pending work item serially in dependency
// order, leasing each one for the duration of its tool call and
// checkpointing before and after. Once every item is completed or failed,
// it advances to verifying.
func (r *Runner) stepExecuting(ctx context.Context, t *task.Task) (*Event, error) {
	items, err := r.loadWorkItems(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	ordered, err := task.OrderWorkItems(items)
	if err != nil {
		r.failTask(ctx, t, task.ExitFatalError, err.Error())
		return newEvent(t, EventDone, "", "work item dependency cycle: "+err.Error()), nil
	}

	completed := make(map[string]bool, len(ordered))
	for _, it := range ordered {
		if it.Status == task.WorkItemCompleted {
			completed[it.ItemID] = true
		}
	}

	for _, it := range ordered {
		if it.Status == task.WorkItemCompleted || it.Status == task.WorkItemFailed {
			continue
		}
		if !it.Ready(completed) {
			continue
		}
		ev, err := r.runWorkItem(ctx, t, it)
		if err != nil {
			return ev, err
		}
		// Fail-fast: per spec, the first work item failure stops the whole
		// task rather than continuing to the next ready item; retry/skip
		// policy is left for a later component (e.g. the Supervisor's
		// OnTaskFailed retry verdict), not decided here.
		if it.Status == task.WorkItemFailed {
			detail := "work item failed"
			if ev != nil {
				detail = ev.Detail
			}
			r.failTask(ctx, t, task.ExitFatalError, detail)
			return newEvent(t, EventDone, it.ItemID, detail), nil
		}
		return ev, nil
	}

	// Nothing left runnable: either everything is done, or we're blocked on
	// a failed upstream dependency.
	allDone := true
	for _, it := range ordered {
		if it.Status != task.WorkItemCompleted && it.Status != task.WorkItemFailed {
			allDone = false
			break
		}
	}
	if !allDone {
		return nil, nil
	}

	r.writeWorkItemsSummary(t.ID, ordered)

	if err := t.Transition(task.StatusVerifying); err != nil {
		return nil, err
	}
	r.persist(ctx, t)
	return newEvent(t, EventStatusChanged, "", "execution complete, verifying"), nil
}

func (r *Runner) runWorkItem(ctx context.Context, t *task.Task, it *task.WorkItem) (*Event, error) {
	if r.leases != nil {
		ok, err := r.leases.Acquire(ctx, it.ItemID, r.workerID)
		if err != nil {
			return nil, fmt.Errorf("runner: acquire lease for %s: %w", it.ItemID, err)
		}
		if !ok {
			// Another worker holds this item; try again next iteration.
			return nil, nil
		}
		defer r.leases.Release(ctx, it.ItemID, r.workerID)
	}

	it.Status = task.WorkItemRunning
	r.saveWorkItem(ctx, t.ID, it)

	var cp *checkpoint.State
	if r.checkpoints != nil {
		var err error
		cp, err = r.checkpoints.BeginStep(ctx, t.ID, it.ItemID, checkpoint.TypeStep, map[string]any{"item_id": it.ItemID})
		if err != nil {
			return nil, fmt.Errorf("runner: begin step checkpoint for %s: %w", it.ItemID, err)
		}
	}

	toolName := it.RoleHint
	result, toolErr := r.tools.Run(ctx, toolName, tooladapter.Task{ID: t.ID, Prompt: it.Title}, t.RunMode != task.RunModeInteractive)

	if toolErr != nil || result.Status == tooladapter.StatusFailed || result.Status == tooladapter.StatusTimeout {
		it.Status = task.WorkItemFailed
		it.Output = &task.WorkItemOutput{HandoffNotes: result.ErrorMessage}
		r.saveWorkItem(ctx, t.ID, it)
		r.writeWorkItem(t.ID, it)
		if cp != nil {
			_ = r.checkpoints.CommitStep(ctx, cp, map[string]any{"item_id": it.ItemID, "status": "failed"})
		}
		detail := "work item failed"
		if toolErr != nil {
			detail = toolErr.Error()
		}
		return newEvent(t, EventWorkItemFinished, it.ItemID, detail), nil
	}

	it.Status = task.WorkItemCompleted
	it.Output = &task.WorkItemOutput{
		FilesChanged: result.FilesTouched,
		Evidence:     []string{result.ToolRunID},
		HandoffNotes: result.Stdout,
	}
	r.saveWorkItem(ctx, t.ID, it)
	r.writeWorkItem(t.ID, it)
	if cp != nil {
		if err := r.checkpoints.CommitStep(ctx, cp, map[string]any{"item_id": it.ItemID, "status": "completed"}); err != nil {
			r.logger.Warn("runner: step checkpoint failed verification", "task_id", t.ID, "item_id", it.ItemID, "error", err)
		}
	}
	r.appendLineage(ctx, t, store.LineageArtifact, it.ItemID, "executing", map[string]any{"tool_run_id": result.ToolRunID})
	if r.bus != nil {
		r.bus.Emit(eventbus.New("task.step_completed", eventbus.SourceCore, eventbus.Entity{Kind: "task", ID: t.ID}, map[string]any{
			"item_id": it.ItemID,
			"run_id":  result.ToolRunID,
		}))
	}
	return newEvent(t, EventWorkItemFinished, it.ItemID, "work item completed"), nil
}

// stepVerifying runs the task's DONE gates. Passing gates end the task
// successfully; failing gates record the failure context and send the
// task back to planning for another attempt, bounded by MaxRetries.
func (r *Runner) stepVerifying(ctx context.Context, t *task.Task) (*Event, error) {
	if r.gates == nil {
		if err := t.Transition(task.StatusSucceeded); err != nil {
			return nil, err
		}
		t.SetExitReason(task.ExitDone)
		r.persist(ctx, t)
		return newEvent(t, EventDone, "", "no gates configured, marking succeeded"), nil
	}

	meta := t.Snapshot()
	results, err := r.gates.Run(ctx, t.ID, meta.Gates)
	if err != nil {
		return nil, fmt.Errorf("runner: run done gates: %w", err)
	}
	r.appendLineage(ctx, t, store.LineageGateResult, "", "verifying", map[string]any{"overall_status": results.OverallStatus})

	if results.OverallStatus == gate.GateStatusPassed {
		if err := t.Transition(task.StatusSucceeded); err != nil {
			return nil, err
		}
		t.SetExitReason(task.ExitDone)
		r.persist(ctx, t)
		return newEvent(t, EventGateResult, "", "gates passed"), nil
	}

	var failedGate gate.GateExecutionResult
	for _, g := range results.GatesExecuted {
		if g.Status != gate.GateStatusPassed {
			failedGate = g
			break
		}
	}

	retryCount := meta.RetryCount + 1
	maxRetries := meta.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryCount > maxRetries {
		r.failTask(ctx, t, task.ExitFatalError, "gate "+failedGate.GateName+" failed after "+fmt.Sprint(maxRetries)+" retries")
		return newEvent(t, EventGateResult, "", "gates failed, retries exhausted"), nil
	}

	t.WithMetadata(func(m *task.Metadata) {
		m.RetryCount = retryCount
		m.GateFailureContext = &task.GateFailureContext{
			GateName: failedGate.GateName,
			ExitCode: failedGate.ExitCode,
			Stdout:   failedGate.Stdout,
			Stderr:   failedGate.Stderr,
			FailedAt: time.Now().UTC(),
		}
	})
	if err := t.Transition(task.StatusPlanning); err != nil {
		return nil, err
	}
	r.persist(ctx, t)
	return newEvent(t, EventGateResult, "", "gate "+failedGate.GateName+" failed, replanning"), nil
}

func (r *Runner) loadWorkItems(ctx context.Context, taskID string) ([]*task.WorkItem, error) {
	var items []*task.WorkItem
	for it, err := range r.store.ListWorkItems(ctx, taskID) {
		if err != nil {
			return nil, fmt.Errorf("runner: list work items for %s: %w", taskID, err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (r *Runner) saveWorkItem(ctx context.Context, taskID string, it *task.WorkItem) {
	if err := r.store.UpsertWorkItem(ctx, taskID, it); err != nil {
		r.logger.Warn("runner: failed to persist work item", "task_id", taskID, "item_id", it.ItemID, "error", err)
	}
}

func (r *Runner) ensureTimeoutState(t *task.Task) {
	if t.Snapshot().TimeoutState != nil {
		return
	}
	now := time.Now().UTC()
	t.WithMetadata(func(m *task.Metadata) {
		m.TimeoutState = &task.TimeoutState{
			HardTimeout:   r.defaultHardTimeout,
			StartedAt:     now,
			LastHeartbeat: now,
		}
	})
}

func (r *Runner) isTimedOut(t *task.Task) bool {
	ts := t.Snapshot().TimeoutState
	if ts == nil || ts.HardTimeout <= 0 {
		return false
	}
	return ts.Elapsed(time.Now().UTC()) > ts.HardTimeout
}

func (r *Runner) heartbeat(t *task.Task) {
	t.WithMetadata(func(m *task.Metadata) {
		if m.TimeoutState != nil {
			m.TimeoutState.LastHeartbeat = time.Now().UTC()
		}
	})
}

func (r *Runner) failTask(ctx context.Context, t *task.Task, reason task.ExitReason, detail string) {
	if err := t.Transition(task.StatusFailed); err != nil {
		r.logger.Warn("runner: failed to transition to failed", "task_id", t.ID, "error", err)
	}
	t.SetExitReason(reason)
	r.persist(ctx, t)
	r.logger.Error("runner: task failed", "task_id", t.ID, "reason", reason, "detail", detail)
	if r.bus != nil {
		meta := t.Snapshot()
		r.bus.Emit(eventbus.New("task.failed", eventbus.SourceCore, eventbus.Entity{Kind: "task", ID: t.ID}, map[string]any{
			"exit_reason": string(reason),
			"error_message": detail,
			"retry_count": float64(meta.RetryCount),
			"max_retries": float64(meta.MaxRetries),
		}))
	}
}

func (r *Runner) cancelTask(ctx context.Context, t *task.Task) {
	if err := t.Transition(task.StatusCanceled); err != nil {
		r.logger.Warn("runner: failed to transition to canceled", "task_id", t.ID, "error", err)
	}
	t.SetExitReason(task.ExitUserCancelled)
	r.persist(ctx, t)
}

func (r *Runner) blockTask(ctx context.Context, t *task.Task, detail string) {
	if err := t.Transition(task.StatusBlocked); err != nil {
		r.logger.Warn("runner: failed to transition to blocked", "task_id", t.ID, "error", err)
	}
	t.SetExitReason(task.ExitBlocked)
	r.persist(ctx, t)
	r.logger.Warn("runner: task blocked", "task_id", t.ID, "detail", detail)
	if r.bus != nil {
		r.bus.Emit(eventbus.New("mode.violation", eventbus.SourceCore, eventbus.Entity{Kind: "task", ID: t.ID}, map[string]any{"detail": detail, "severity": "critical"}))
	}
}

func (r *Runner) persist(ctx context.Context, t *task.Task) {
	if err := r.store.UpsertTask(ctx, store.TaskRow{
		TaskID:     t.ID,
		Title:      t.Title,
		Status:     t.GetStatus(),
		RunMode:    t.RunMode,
		ExitReason: t.ExitReason,
		Metadata:   t.Snapshot(),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}); err != nil {
		r.logger.Error("runner: failed to persist task", "task_id", t.ID, "error", err)
	}
	if r.bus != nil {
		r.bus.Emit(eventbus.New("task.progress", eventbus.SourceCore, eventbus.Entity{Kind: "task", ID: t.ID}, map[string]any{"status": string(t.GetStatus())}))
	}
}

func (r *Runner) recoverCheckpoint(ctx context.Context, t *task.Task) (*checkpoint.State, error) {
	if r.checkpoints == nil {
		return nil, nil
	}
	return r.checkpoints.Recover(ctx, t.ID)
}

func (r *Runner) recordSpawn(ctx context.Context, t *task.Task) error {
	return r.appendLineage(ctx, t, store.LineageRunnerSpawn, "", string(t.GetStatus()), map[string]any{"worker_id": r.workerID})
}

func (r *Runner) recordExit(ctx context.Context, t *task.Task) {
	_ = r.appendLineage(ctx, t, store.LineageRunnerExit, "", string(t.GetStatus()), map[string]any{"worker_id": r.workerID, "exit_reason": string(t.ExitReason)})
}

func (r *Runner) appendLineage(ctx context.Context, t *task.Task, kind store.LineageKind, refID, phase string, metadata map[string]any) error {
	if err := r.store.AppendLineage(ctx, store.LineageEntry{
		TaskID:   t.ID,
		Kind:     kind,
		RefID:    refID,
		Phase:    phase,
		Metadata: metadata,
	}); err != nil {
		r.logger.Warn("runner: failed to append lineage", "task_id", t.ID, "kind", kind, "error", err)
		return err
	}
	return nil
}
