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
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/meridianstack/orchestrator/pkg/orcherr"
)

// InboxSource distinguishes how a supervisor inbox row was discovered.
type InboxSource string

const (
	InboxSourceEventBus InboxSource = "eventbus"
	InboxSourcePolling  InboxSource = "polling"
)

// InboxStatus is the processing state of a supervisor inbox row.
type InboxStatus string

const (
	InboxPending    InboxStatus = "pending"
	InboxProcessing InboxStatus = "processing"
	InboxCompleted  InboxStatus = "completed"
	InboxFailed     InboxStatus = "failed"
)

// InboxRow is one event the Supervisor has seen, deduplicated by EventID.
type InboxRow struct {
	ID          int64
	EventID     string
	TaskID      string
	EventType   string
	Source      InboxSource
	Payload     map[string]any
	ReceivedAt  time.Time
	Status      InboxStatus
	ProcessedAt *time.Time
}

// InsertInboxEvent inserts a new inbox row. If event_id has already been
// seen, it returns orcherr.ErrDuplicateEvent (wrapped) rather than a raw
// driver error, so the sole deduplication mechanism required by spec.md
// §4.1 is a single well-known sentinel every caller checks with
// orcherr.IsDuplicateEvent.
func (s *Store) InsertInboxEvent(ctx context.Context, row InboxRow) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal inbox payload: %w", err)
	}
	receivedAt := row.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	status := row.Status
	if status == "" {
		status = InboxPending
	}
	_, err = s.write.ExecContext(ctx, `
INSERT INTO supervisor_inbox (event_id, task_id, event_type, source, payload_json, received_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, row.EventID, row.TaskID, row.EventType, string(row.Source), string(payload), receivedAt, string(status))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("store: insert inbox event %s: %w", row.EventID, orcherr.ErrDuplicateEvent)
		}
		return fmt.Errorf("store: insert inbox event %s: %w", row.EventID, err)
	}
	return nil
}

// MarkInboxStatus transitions an inbox row's processing status, stamping
// processed_at when moving to a terminal status.
func (s *Store) MarkInboxStatus(ctx context.Context, eventID string, status InboxStatus) error {
	var processedAt any
	if status == InboxCompleted || status == InboxFailed {
		processedAt = time.Now().UTC()
	}
	_, err := s.write.ExecContext(ctx, `
UPDATE supervisor_inbox SET status = ?, processed_at = COALESCE(?, processed_at) WHERE event_id = ?
`, string(status), processedAt, eventID)
	if err != nil {
		return fmt.Errorf("store: mark inbox status for %s: %w", eventID, err)
	}
	return nil
}

// ListInboxByStatus streams pending/processing/etc rows oldest-received
// first, the order the Supervisor must process within a task.
func (s *Store) ListInboxByStatus(ctx context.Context, status InboxStatus, limit int) iter.Seq2[*InboxRow, error] {
	return func(yield func(*InboxRow, error) bool) {
		rows, err := s.read.QueryContext(ctx, `
SELECT id, event_id, task_id, event_type, source, payload_json, received_at, status, processed_at
FROM supervisor_inbox WHERE status = ? ORDER BY received_at ASC LIMIT ?
`, string(status), limit)
		if err != nil {
			yield(nil, fmt.Errorf("store: list inbox by status %s: %w", status, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanInboxRow(rows)
			if !yield(r, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func scanInboxRow(s rowScanner) (*InboxRow, error) {
	var r InboxRow
	var source, status, payloadJSON string
	if err := s.Scan(&r.ID, &r.EventID, &r.TaskID, &r.EventType, &source, &payloadJSON, &r.ReceivedAt, &status, &r.ProcessedAt); err != nil {
		return nil, err
	}
	r.Source = InboxSource(source)
	r.Status = InboxStatus(status)
	if err := json.Unmarshal([]byte(payloadJSON), &r.Payload); err != nil {
		return nil, fmt.Errorf("store: unmarshal inbox payload: %w", err)
	}
	return &r, nil
}

// InboxBacklog reports the counts the Supervisor needs for SLO monitoring.
type InboxBacklog struct {
	Pending               int
	Processing            int
	Failed                int
	Completed             int
	OldestPendingAgeSecs  float64
}

// Backlog computes the metrics spec.md §4.8 requires the inbox to expose.
func (s *Store) Backlog(ctx context.Context) (InboxBacklog, error) {
	var b InboxBacklog
	rows, err := s.read.QueryContext(ctx, `SELECT status, COUNT(*) FROM supervisor_inbox GROUP BY status`)
	if err != nil {
		return b, fmt.Errorf("store: backlog counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return b, err
		}
		switch InboxStatus(status) {
		case InboxPending:
			b.Pending = count
		case InboxProcessing:
			b.Processing = count
		case InboxFailed:
			b.Failed = count
		case InboxCompleted:
			b.Completed = count
		}
	}
	if err := rows.Err(); err != nil {
		return b, err
	}

	var oldest *time.Time
	row := s.read.QueryRowContext(ctx, `SELECT MIN(received_at) FROM supervisor_inbox WHERE status = ?`, string(InboxPending))
	if err := row.Scan(&oldest); err != nil && !isNotFound(err) {
		return b, fmt.Errorf("store: oldest pending: %w", err)
	}
	if oldest != nil {
		b.OldestPendingAgeSecs = time.Since(*oldest).Seconds()
	}
	return b, nil
}

// PurgeCompletedInboxOlderThan deletes completed rows past retention, the
// Supervisor's periodic cleanup duty.
func (s *Store) PurgeCompletedInboxOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.write.ExecContext(ctx, `
DELETE FROM supervisor_inbox WHERE status = ? AND processed_at IS NOT NULL AND processed_at < ?
`, string(InboxCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge completed inbox: %w", err)
	}
	return res.RowsAffected()
}
