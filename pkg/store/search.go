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
)

// CommitTextHit is one full-text search match over indexed commit-like
// lineage text (commit messages, diff summaries).
type CommitTextHit struct {
	TaskID string
	RefID  string
	Body   string
}

// IndexCommitText adds searchable text for a lineage ref (typically a
// commit message or diff summary) to the optional full-text index. Callers
// record the lineage row itself separately via AppendLineage; this is an
// additive, best-effort index and its absence never blocks a write.
func (s *Store) IndexCommitText(ctx context.Context, taskID, refID, body string) error {
	_, err := s.write.ExecContext(ctx, `
INSERT INTO commit_text_fts (task_id, ref_id, body) VALUES (?, ?, ?)
`, taskID, refID, body)
	if err != nil {
		return fmt.Errorf("store: index commit text for %s/%s: %w", taskID, refID, err)
	}
	return nil
}

// SearchCommitText runs a full-text MATCH query scoped to one task.
func (s *Store) SearchCommitText(ctx context.Context, taskID, query string, limit int) ([]CommitTextHit, error) {
	rows, err := s.read.QueryContext(ctx, `
SELECT task_id, ref_id, body FROM commit_text_fts WHERE task_id = ? AND body MATCH ? LIMIT ?
`, taskID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search commit text: %w", err)
	}
	defer rows.Close()

	var hits []CommitTextHit
	for rows.Next() {
		var h CommitTextHit
		if err := rows.Scan(&h.TaskID, &h.RefID, &h.Body); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
