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

	"github.com/meridianstack/orchestrator/pkg/store"
)

// Executor performs a tool invocation and reports its raw result.
type Executor func(ctx context.Context) (resultJSON string, exitCode int, err error)

// ToolLedger records one result per (task, fingerprint) pair so a replayed
// work item with an identical fingerprint returns the original result
// instead of re-running a side-effecting tool call. This realizes
// TESTABLE PROPERTY 9.
type ToolLedger struct {
	store *store.Store
}

// NewToolLedger constructs a ToolLedger over s.
func NewToolLedger(s *store.Store) *ToolLedger {
	return &ToolLedger{store: s}
}

// ExecuteOrReplay returns the recorded result for (taskID, fingerprint) if
// one exists; otherwise it runs execute and records the first result that
// lands, ignoring a second concurrent write that lost the race (first
// write wins, per the Store's ON CONFLICT DO NOTHING).
func (l *ToolLedger) ExecuteOrReplay(ctx context.Context, taskID, fingerprint string, execute Executor) (resultJSON string, exitCode int, replayed bool, err error) {
	if resultJSON, exitCode, found, getErr := l.store.GetLedgerEntry(ctx, taskID, fingerprint); getErr != nil {
		return "", 0, false, fmt.Errorf("checkpoint: get ledger entry %s/%s: %w", taskID, fingerprint, getErr)
	} else if found {
		return resultJSON, exitCode, true, nil
	}

	resultJSON, exitCode, err = execute(ctx)
	if err != nil {
		return "", 0, false, err
	}
	if putErr := l.store.PutLedgerEntry(ctx, taskID, fingerprint, resultJSON, exitCode); putErr != nil {
		return "", 0, false, fmt.Errorf("checkpoint: put ledger entry %s/%s: %w", taskID, fingerprint, putErr)
	}

	// Another caller may have won the race and already recorded a
	// different result; re-read so both callers observe the same
	// canonical replay.
	if recorded, recordedExit, found, getErr := l.store.GetLedgerEntry(ctx, taskID, fingerprint); getErr == nil && found {
		return recorded, recordedExit, recorded != resultJSON, nil
	}
	return resultJSON, exitCode, false, nil
}
