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

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianstack/orchestrator/pkg/decision"
	"github.com/meridianstack/orchestrator/pkg/eventbus"
	"github.com/meridianstack/orchestrator/pkg/gate"
	"github.com/meridianstack/orchestrator/pkg/orcherr"
	"github.com/meridianstack/orchestrator/pkg/risk"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/supervisor/policy"
	"github.com/meridianstack/orchestrator/pkg/task"
)

// Config wires a Supervisor's dependencies. Store and Router are
// required; everything else defaults.
type Config struct {
	Store       *store.Store
	Bus         *eventbus.Bus
	Router      *Router
	Decisions   *decision.Recorder
	RiskScorer  *risk.Scorer
	Redline     []gate.RedlineValidator
	Logger      *slog.Logger

	// PollInterval is the slow-path cadence: how often the Supervisor
	// scans the tasks table for events the fast path might have missed.
	PollInterval time.Duration

	// DrainBatch bounds how many pending inbox rows one wake-up consumes,
	// so a burst never starves the poller's own reconciliation scan.
	DrainBatch int

	// InboxRetention is how long a completed inbox row survives before
	// Cleanup purges it.
	InboxRetention time.Duration

	// BacklogWarnThreshold logs a warning once oldest_pending_age_seconds
	// exceeds it, per spec.md §5's backpressure note.
	BacklogWarnThreshold time.Duration
}

// Supervisor implements spec.md §4.8: dual-ingestion inbox consumer plus
// policy router. The zero value is not usable; use New.
type Supervisor struct {
	store      *store.Store
	bus        *eventbus.Bus
	router     *Router
	decisions  *decision.Recorder
	riskScorer *risk.Scorer
	redline    []gate.RedlineValidator
	logger     *slog.Logger

	pollInterval   time.Duration
	drainBatch     int
	inboxRetention time.Duration
	backlogWarn    time.Duration

	wake chan struct{}
}

// New constructs a Supervisor. Store and Router are required.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Store == nil {
		return nil, orcherr.New("supervisor.New", orcherr.KindConfig, "Store is required", nil)
	}
	if cfg.Router == nil {
		return nil, orcherr.New("supervisor.New", orcherr.KindConfig, "Router is required", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	drainBatch := cfg.DrainBatch
	if drainBatch <= 0 {
		drainBatch = 50
	}
	retention := cfg.InboxRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	backlogWarn := cfg.BacklogWarnThreshold
	if backlogWarn <= 0 {
		backlogWarn = 30 * time.Second
	}

	s := &Supervisor{
		store:          cfg.Store,
		bus:            cfg.Bus,
		router:         cfg.Router,
		decisions:      cfg.Decisions,
		riskScorer:     cfg.RiskScorer,
		redline:        cfg.Redline,
		logger:         logger,
		pollInterval:   pollInterval,
		drainBatch:     drainBatch,
		inboxRetention: retention,
		backlogWarn:    backlogWarn,
		wake:           make(chan struct{}, 1),
	}
	if s.decisions == nil {
		s.decisions = decision.NewRecorder(cfg.Store)
	}
	return s, nil
}

// Run drives the Supervisor's main loop until ctx is canceled: it
// subscribes to the event bus fast path, ticks the slow-path
// reconciliation poller, and drains the inbox whenever woken. It blocks
// until ctx.Done(), matching spec.md §5's "sleeps until woken by the
// Event Bus or the poll tick" suspension point.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.bus != nil {
		s.bus.Subscribe(func(ev eventbus.Event) {
			if err := s.ingestFastPath(ctx, ev); err != nil {
				s.logger.Error("supervisor: fast path ingest failed", "error", err, "type", ev.Type)
			}
		})
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.poke()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.reconcile(ctx); err != nil {
				s.logger.Error("supervisor: reconcile failed", "error", err)
			}
			s.poke()
		case <-s.wake:
			if err := s.drain(ctx); err != nil {
				s.logger.Error("supervisor: drain failed", "error", err)
			}
			if err := s.checkBacklog(ctx); err != nil {
				s.logger.Error("supervisor: backlog check failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ingestFastPath converts a bus event into a supervisor_inbox row and
// wakes the drain loop. A duplicate event_id is not an error: the bus may
// legitimately redeliver, and the inbox's UNIQUE constraint is the single
// source of truth for "already seen".
func (s *Supervisor) ingestFastPath(ctx context.Context, ev eventbus.Event) error {
	eventID := fmt.Sprintf("eventbus:%s:%s:%d", ev.Entity.ID, ev.Type, ev.TS.UnixNano())
	err := s.store.InsertInboxEvent(ctx, store.InboxRow{
		EventID:    eventID,
		TaskID:     ev.Entity.ID,
		EventType:  ev.Type,
		Source:     store.InboxSourceEventBus,
		Payload:    ev.Payload,
		ReceivedAt: ev.TS,
	})
	if err != nil && !orcherr.IsDuplicateEvent(err) {
		return err
	}
	s.poke()
	return nil
}

// reconcile is the slow path: it scans the tasks table for tasks whose
// last-known status implies an event the fast path may have missed (bus
// delivery is best-effort; the inbox is not) and inserts a synthetic
// event for any not already present. This is spec.md §4.8's "no event is
// ever lost" guarantee.
func (s *Supervisor) reconcile(ctx context.Context) error {
	statuses := []task.Status{task.StatusCreated, task.StatusFailed, task.StatusBlocked}
	for _, status := range statuses {
		eventType := reconcileEventType(status)
		for row, err := range s.store.ListTasksByStatus(ctx, status) {
			if err != nil {
				return fmt.Errorf("supervisor: reconcile list %s: %w", status, err)
			}
			eventID := fmt.Sprintf("polling:%s:%s:%d", row.TaskID, eventType, row.UpdatedAt.UnixNano())
			err := s.store.InsertInboxEvent(ctx, store.InboxRow{
				EventID:    eventID,
				TaskID:     row.TaskID,
				EventType:  eventType,
				Source:     store.InboxSourcePolling,
				Payload:    map[string]any{"reconciled_from_status": string(status)},
				ReceivedAt: row.UpdatedAt,
			})
			if err != nil && !orcherr.IsDuplicateEvent(err) {
				return fmt.Errorf("supervisor: reconcile insert: %w", err)
			}
		}
	}
	return nil
}

func reconcileEventType(status task.Status) string {
	switch status {
	case task.StatusCreated:
		return "task.created"
	case task.StatusFailed:
		return "task.failed"
	case task.StatusBlocked:
		return "task.blocked"
	default:
		return "task.unknown"
	}
}

// drain processes pending inbox rows in received_at order, per spec.md
// §5's within-task ordering guarantee, routing each to at most one
// policy and marking it completed or failed.
func (s *Supervisor) drain(ctx context.Context) error {
	for row, err := range s.store.ListInboxByStatus(ctx, store.InboxPending, s.drainBatch) {
		if err != nil {
			return fmt.Errorf("supervisor: drain list: %w", err)
		}
		if err := s.store.MarkInboxStatus(ctx, row.EventID, store.InboxProcessing); err != nil {
			return fmt.Errorf("supervisor: mark processing: %w", err)
		}
		if err := s.process(ctx, row); err != nil {
			s.logger.Error("supervisor: policy failed", "error", err, "event_id", row.EventID, "event_type", row.EventType)
			if markErr := s.store.MarkInboxStatus(ctx, row.EventID, store.InboxFailed); markErr != nil {
				return fmt.Errorf("supervisor: mark failed: %w", markErr)
			}
			continue
		}
		if err := s.store.MarkInboxStatus(ctx, row.EventID, store.InboxCompleted); err != nil {
			return fmt.Errorf("supervisor: mark completed: %w", err)
		}
	}
	return nil
}

// process routes one inbox row to its policy. The policy's own writes
// (decision record, audit entry, task status flip) and this row's status
// update happen back-to-back rather than in a literal shared SQL
// transaction, since *store.Store does not expose transaction handles
// across package boundaries; the ordering still guarantees the decision
// is durable before the inbox row is marked completed, which is the
// atomicity property spec.md §4.8 actually cares about (a crash mid-way
// reprocesses the event rather than silently dropping the decision).
func (s *Supervisor) process(ctx context.Context, row *store.InboxRow) error {
	p := s.router.Match(row.EventType)
	if p == nil {
		s.logger.Warn("supervisor: no policy matched event type", "event_type", row.EventType)
		return nil
	}
	pc := &policy.PolicyContext{
		Ctx:        ctx,
		Event:      row,
		Store:      s.store,
		Decisions:  s.decisions,
		RiskScorer: s.riskScorer,
		Redline:    s.redline,
	}
	_, _, err := p.Handle(pc)
	return err
}

// checkBacklog logs a warning when the oldest pending inbox row has
// waited longer than the configured SLO threshold, per spec.md §5's
// backpressure note.
func (s *Supervisor) checkBacklog(ctx context.Context) error {
	backlog, err := s.store.Backlog(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: backlog: %w", err)
	}
	if backlog.Pending > 0 && time.Duration(backlog.OldestPendingAgeSecs*float64(time.Second)) > s.backlogWarn {
		s.logger.Warn("supervisor: inbox backlog exceeds SLO",
			"pending", backlog.Pending, "oldest_pending_age_seconds", backlog.OldestPendingAgeSecs)
	}
	return nil
}

// Cleanup purges completed inbox rows past retention. Intended to be
// called periodically (e.g. once per reconcile tick) by the caller.
func (s *Supervisor) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeCompletedInboxOlderThan(ctx, s.inboxRetention)
	if err != nil {
		return 0, fmt.Errorf("supervisor: cleanup: %w", err)
	}
	return n, nil
}
