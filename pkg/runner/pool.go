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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/task"
)

// PoolConfig carries everything a Pool needs beyond the Runner it drives.
type PoolConfig struct {
	Runner *Runner
	Store  *store.Store
	Logger *slog.Logger

	// Concurrency bounds how many tasks the pool drives at once. Defaults
	// to 8.
	Concurrency int64
	// PollInterval is how often the pool rescans the Store for
	// non-terminal tasks. Defaults to 2s.
	PollInterval time.Duration
}

// Pool fans a single Runner out across every non-terminal task in the
// Store, bounded by a weighted semaphore, grounded on the teacher's
// pkg/agent/workflowagent/parallel.go errgroup.WithContext fan-out over
// sub-agents, generalized here from parallel sub-agent steps to parallel
// whole-task drives.
type Pool struct {
	runner       *Runner
	store        *store.Store
	logger       *slog.Logger
	sem          *semaphore.Weighted
	pollInterval time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewPool constructs a Pool, filling in defaults for everything optional.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner: pool requires a Runner")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner: pool requires a Store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Pool{
		runner:       cfg.Runner,
		store:        cfg.Store,
		logger:       logger,
		sem:          semaphore.NewWeighted(concurrency),
		pollInterval: pollInterval,
		inFlight:     make(map[string]bool),
	}, nil
}

// Run polls the Store on PollInterval and drives every non-terminal task
// it finds, one goroutine per task, until ctx is canceled. A single
// task's drive failure is logged and only ends that task's goroutine,
// never the pool itself. A task already in flight in this process is
// skipped on subsequent scans: two Runner.Run calls racing the same
// task's checkpoints and status transitions would violate the Task
// Runner's single-driver assumption, even though leases already
// serialize individual work items within a drive.
func (p *Pool) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gctx.Done():
			return group.Wait()
		case <-ticker.C:
		}

		for _, status := range task.NonTerminalStatuses() {
			for row, err := range p.store.ListTasksByStatus(gctx, status) {
				if err != nil {
					p.logger.Error("pool: list tasks failed", "status", status, "error", err)
					break
				}
				if !p.claim(row.TaskID) {
					continue
				}
				if err := p.sem.Acquire(gctx, 1); err != nil {
					p.release(row.TaskID)
					return group.Wait()
				}

				t := &task.Task{
					ID: row.TaskID, Title: row.Title, RunMode: row.RunMode,
					Status: row.Status, Metadata: row.Metadata,
					ExitReason: row.ExitReason, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
				}
				group.Go(func() error {
					defer p.sem.Release(1)
					defer p.release(t.ID)
					return p.drive(gctx, t)
				})
			}
		}
	}
}

func (p *Pool) drive(ctx context.Context, t *task.Task) error {
	for ev, err := range p.runner.Run(ctx, t) {
		if err != nil {
			p.logger.Error("pool: task drive failed", "task_id", t.ID, "error", err)
			return nil
		}
		p.logger.Debug("pool: task event", "task_id", t.ID, "event", ev)
	}
	return nil
}

func (p *Pool) claim(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[taskID] {
		return false
	}
	p.inFlight[taskID] = true
	return true
}

func (p *Pool) release(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, taskID)
}
