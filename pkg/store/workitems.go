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

	"github.com/meridianstack/orchestrator/pkg/task"
)

// UpsertWorkItem inserts or updates a work item by (task_id, item_id). The
// caller is responsible for the invariant that a completed item's output is
// never overwritten; the DAO itself is mechanical.
func (s *Store) UpsertWorkItem(ctx context.Context, taskID string, item *task.WorkItem) error {
	deps, err := json.Marshal(item.Dependencies)
	if err != nil {
		return fmt.Errorf("store: marshal work item dependencies: %w", err)
	}
	var outputJSON []byte
	if item.Output != nil {
		outputJSON, err = json.Marshal(item.Output)
		if err != nil {
			return fmt.Errorf("store: marshal work item output: %w", err)
		}
	}
	_, err = s.write.ExecContext(ctx, `
INSERT INTO work_items (task_id, item_id, title, dependencies_json, status, output_json, role_hint, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id, item_id) DO UPDATE SET
	title = excluded.title,
	dependencies_json = excluded.dependencies_json,
	status = excluded.status,
	output_json = excluded.output_json,
	role_hint = excluded.role_hint,
	updated_at = excluded.updated_at
`, taskID, item.ItemID, item.Title, string(deps), string(item.Status), nullableString(outputJSON), item.RoleHint, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: upsert work item %s/%s: %w", taskID, item.ItemID, err)
	}
	return nil
}

// ListWorkItems streams work items for a task, unordered; callers needing
// dependency order should run task.OrderWorkItems over the result.
func (s *Store) ListWorkItems(ctx context.Context, taskID string) iter.Seq2[*task.WorkItem, error] {
	return func(yield func(*task.WorkItem, error) bool) {
		rows, err := s.read.QueryContext(ctx, `
SELECT item_id, title, dependencies_json, status, output_json, role_hint
FROM work_items WHERE task_id = ?
`, taskID)
		if err != nil {
			yield(nil, fmt.Errorf("store: list work items for task %s: %w", taskID, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var w task.WorkItem
			var deps, status string
			var outputJSON *string
			if err := rows.Scan(&w.ItemID, &w.Title, &deps, &status, &outputJSON, &w.RoleHint); err != nil {
				yield(nil, err)
				return
			}
			w.Status = task.WorkItemStatus(status)
			if err := json.Unmarshal([]byte(deps), &w.Dependencies); err != nil {
				yield(nil, fmt.Errorf("store: unmarshal work item dependencies: %w", err))
				return
			}
			if outputJSON != nil {
				var out task.WorkItemOutput
				if err := json.Unmarshal([]byte(*outputJSON), &out); err != nil {
					yield(nil, fmt.Errorf("store: unmarshal work item output: %w", err))
					return
				}
				w.Output = &out
			}
			if !yield(&w, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
