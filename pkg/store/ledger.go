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

// GetLedgerEntry returns a previously recorded tool result for an identical
// (task_id, fingerprint) pair, or ("", 0, false, nil) on a miss. This is the
// DAO backing TESTABLE PROPERTY 9 ("dedup by signature").
func (s *Store) GetLedgerEntry(ctx context.Context, taskID, fingerprint string) (resultJSON string, exitCode int, found bool, err error) {
	row := s.read.QueryRowContext(ctx, `
SELECT result_json, exit_code FROM tool_ledger WHERE task_id = ? AND fingerprint = ?
`, taskID, fingerprint)
	scanErr := row.Scan(&resultJSON, &exitCode)
	if isNotFound(scanErr) {
		return "", 0, false, nil
	}
	if scanErr != nil {
		return "", 0, false, fmt.Errorf("store: get ledger entry %s/%s: %w", taskID, fingerprint, scanErr)
	}
	return resultJSON, exitCode, true, nil
}

// PutLedgerEntry records a tool result under (task_id, fingerprint).
func (s *Store) PutLedgerEntry(ctx context.Context, taskID, fingerprint, resultJSON string, exitCode int) error {
	_, err := s.write.ExecContext(ctx, `
INSERT INTO tool_ledger (task_id, fingerprint, result_json, exit_code, ts)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(task_id, fingerprint) DO NOTHING
`, taskID, fingerprint, resultJSON, exitCode, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: put ledger entry %s/%s: %w", taskID, fingerprint, err)
	}
	return nil
}
