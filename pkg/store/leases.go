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
	"fmt"
	"time"
)

// LeaseRow is the Store's row for a work-item lease.
type LeaseRow struct {
	WorkItemID  string
	WorkerID    string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
	HeartbeatAt time.Time
}

// TryAcquireLease performs the atomic compare-and-set pkg/checkpoint's lease
// manager needs: it succeeds only if no row exists for work_item_id, or the
// existing row's lease has expired. Exactly one of two concurrent callers
// wins, since both run through this Store's single-writer connection.
func (s *Store) TryAcquireLease(ctx context.Context, workItemID, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	res, err := s.write.ExecContext(ctx, `
INSERT INTO leases (work_item_id, worker_id, acquired_at, expires_at, heartbeat_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(work_item_id) DO UPDATE SET
	worker_id = excluded.worker_id,
	acquired_at = excluded.acquired_at,
	expires_at = excluded.expires_at,
	heartbeat_at = excluded.heartbeat_at
WHERE leases.worker_id IS NULL OR leases.expires_at < ?
`, workItemID, workerID, now, expiresAt, now, now)
	if err != nil {
		return false, fmt.Errorf("store: acquire lease for %s: %w", workItemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquire lease rows affected: %w", err)
	}
	return affected > 0, nil
}

// HeartbeatLease extends an owned lease's expiry. It is a no-op (not an
// error) if the caller no longer owns the lease, since an abandoned lease
// should not be resurrected by a stray heartbeat.
func (s *Store) HeartbeatLease(ctx context.Context, workItemID, workerID string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.write.ExecContext(ctx, `
UPDATE leases SET heartbeat_at = ?, expires_at = ? WHERE work_item_id = ? AND worker_id = ?
`, now, now.Add(ttl), workItemID, workerID)
	if err != nil {
		return fmt.Errorf("store: heartbeat lease for %s: %w", workItemID, err)
	}
	return nil
}

// ReleaseLease clears a lease's ownership so it becomes immediately
// acquirable again, regardless of TTL.
func (s *Store) ReleaseLease(ctx context.Context, workItemID, workerID string) error {
	_, err := s.write.ExecContext(ctx, `
UPDATE leases SET worker_id = NULL, expires_at = ? WHERE work_item_id = ? AND worker_id = ?
`, time.Now().UTC(), workItemID, workerID)
	if err != nil {
		return fmt.Errorf("store: release lease for %s: %w", workItemID, err)
	}
	return nil
}

// GetLease reads a lease row, or nil if none exists.
func (s *Store) GetLease(ctx context.Context, workItemID string) (*LeaseRow, error) {
	row := s.read.QueryRowContext(ctx, `
SELECT work_item_id, worker_id, acquired_at, expires_at, heartbeat_at FROM leases WHERE work_item_id = ?
`, workItemID)
	var r LeaseRow
	var workerID *string
	var acquiredAt, expiresAt, heartbeatAt *time.Time
	err := row.Scan(&r.WorkItemID, &workerID, &acquiredAt, &expiresAt, &heartbeatAt)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get lease for %s: %w", workItemID, err)
	}
	if workerID != nil {
		r.WorkerID = *workerID
	}
	if acquiredAt != nil {
		r.AcquiredAt = *acquiredAt
	}
	if expiresAt != nil {
		r.ExpiresAt = *expiresAt
	}
	if heartbeatAt != nil {
		r.HeartbeatAt = *heartbeatAt
	}
	return &r, nil
}
