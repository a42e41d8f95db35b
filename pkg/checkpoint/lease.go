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
	"time"

	"github.com/meridianstack/orchestrator/pkg/store"
)

// LeaseManager grants exclusive, TTL-bound ownership of a work item to one
// worker at a time, on top of the Store's atomic compare-and-set.
type LeaseManager struct {
	store *store.Store
	ttl   time.Duration
}

// NewLeaseManager constructs a LeaseManager with the given default TTL.
func NewLeaseManager(s *store.Store, ttl time.Duration) *LeaseManager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LeaseManager{store: s, ttl: ttl}
}

// Acquire attempts to take ownership of workItemID for workerID. It
// returns false, not an error, when another worker already holds a live
// lease.
func (lm *LeaseManager) Acquire(ctx context.Context, workItemID, workerID string) (bool, error) {
	ok, err := lm.store.TryAcquireLease(ctx, workItemID, workerID, lm.ttl)
	if err != nil {
		return false, fmt.Errorf("checkpoint: acquire lease for %s: %w", workItemID, err)
	}
	return ok, nil
}

// Heartbeat extends an owned lease. A no-op if the caller no longer owns it.
func (lm *LeaseManager) Heartbeat(ctx context.Context, workItemID, workerID string) error {
	if err := lm.store.HeartbeatLease(ctx, workItemID, workerID, lm.ttl); err != nil {
		return fmt.Errorf("checkpoint: heartbeat lease for %s: %w", workItemID, err)
	}
	return nil
}

// Release gives up ownership of workItemID, making it immediately
// acquirable by another worker.
func (lm *LeaseManager) Release(ctx context.Context, workItemID, workerID string) error {
	if err := lm.store.ReleaseLease(ctx, workItemID, workerID); err != nil {
		return fmt.Errorf("checkpoint: release lease for %s: %w", workItemID, err)
	}
	return nil
}

// HeartbeatLoop heartbeats workItemID/workerID at interval until ctx is
// canceled. The runner spawns this alongside a leased work item's
// execution. It returns only when ctx is canceled: heartbeat errors are
// ignored, and a lease this worker no longer holds does not end the loop.
func (lm *LeaseManager) HeartbeatLoop(ctx context.Context, workItemID, workerID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = lm.Heartbeat(ctx, workItemID, workerID)
		}
	}
}

// IsExpired reports whether a lease row has passed its TTL as of now.
func IsExpired(row *store.LeaseRow, now time.Time) bool {
	if row == nil || row.WorkerID == "" {
		return true
	}
	return now.After(row.ExpiresAt)
}
