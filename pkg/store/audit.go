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
	"fmt"
	"iter"
	"time"
)

// AuditLevel is the severity of an append-only audit entry.
type AuditLevel string

const (
	AuditInfo  AuditLevel = "info"
	AuditWarn  AuditLevel = "warn"
	AuditError AuditLevel = "error"
)

// AuditEntry is one append-only row in the audit stream. Audit rows are
// never edited or deleted by the application; only a database-level
// retention job may prune them.
type AuditEntry struct {
	TaskID    string
	TS        time.Time
	Level     AuditLevel
	EventType string
	Payload   map[string]any
}

// AppendAudit inserts an audit row. There is deliberately no Update or
// Delete on this DAO.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal audit payload: %w", err)
	}
	ts := e.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.write.ExecContext(ctx, `
INSERT INTO audit_entries (task_id, ts, level, event_type, payload_json)
VALUES (?, ?, ?, ?, ?)
`, e.TaskID, ts, string(e.Level), e.EventType, string(payload))
	if err != nil {
		return fmt.Errorf("store: append audit for task %s: %w", e.TaskID, err)
	}
	return nil
}

// ListAudit streams audit entries for a task in ts order, the order that
// TESTABLE PROPERTY 1 (state machine legality) replays against.
func (s *Store) ListAudit(ctx context.Context, taskID string) iter.Seq2[*AuditEntry, error] {
	return func(yield func(*AuditEntry, error) bool) {
		rows, err := s.read.QueryContext(ctx, `
SELECT task_id, ts, level, event_type, payload_json
FROM audit_entries WHERE task_id = ? ORDER BY ts ASC, id ASC
`, taskID)
		if err != nil {
			yield(nil, fmt.Errorf("store: list audit for task %s: %w", taskID, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var e AuditEntry
			var level, payloadJSON string
			if err := rows.Scan(&e.TaskID, &e.TS, &level, &e.EventType, &payloadJSON); err != nil {
				yield(nil, err)
				return
			}
			e.Level = AuditLevel(level)
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				yield(nil, fmt.Errorf("store: unmarshal audit payload: %w", err))
				return
			}
			if !yield(&e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}
