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
	"sync/atomic"
	"testing"

	"github.com/meridianstack/orchestrator/pkg/store"
)

func newTestToolLedger(t *testing.T) *ToolLedger {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewToolLedger(s)
}

func TestToolLedgerFirstCallExecutes(t *testing.T) {
	l := newTestToolLedger(t)
	ctx := context.Background()

	var calls int32
	result, exit, replayed, err := l.ExecuteOrReplay(ctx, "task-1", "fp-1", func(ctx context.Context) (string, int, error) {
		atomic.AddInt32(&calls, 1)
		return `{"ok":true}`, 0, nil
	})
	if err != nil {
		t.Fatalf("ExecuteOrReplay: %v", err)
	}
	if replayed {
		t.Fatal("expected the first call not to be a replay")
	}
	if result != `{"ok":true}` || exit != 0 {
		t.Fatalf("unexpected result: %q exit=%d", result, exit)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one execution, got %d", calls)
	}
}

func TestToolLedgerReplaysIdenticalFingerprint(t *testing.T) {
	l := newTestToolLedger(t)
	ctx := context.Background()

	var calls int32
	run := func() (string, int, bool, error) {
		return l.ExecuteOrReplay(ctx, "task-1", "fp-1", func(ctx context.Context) (string, int, error) {
			atomic.AddInt32(&calls, 1)
			return `{"ok":true}`, 0, nil
		})
	}
	if _, _, _, err := run(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, exit, replayed, err := run()
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !replayed {
		t.Fatal("expected the second call to be reported as a replay")
	}
	if result != `{"ok":true}` || exit != 0 {
		t.Fatalf("expected the original result on replay, got %q exit=%d", result, exit)
	}
	if calls != 1 {
		t.Fatalf("expected the tool to run exactly once across both calls, got %d", calls)
	}
}

func TestToolLedgerDistinctFingerprintsExecuteIndependently(t *testing.T) {
	l := newTestToolLedger(t)
	ctx := context.Background()

	var calls int32
	execute := func(ctx context.Context) (string, int, error) {
		atomic.AddInt32(&calls, 1)
		return `{"ok":true}`, 0, nil
	}
	if _, _, _, err := l.ExecuteOrReplay(ctx, "task-1", "fp-1", execute); err != nil {
		t.Fatalf("fp-1: %v", err)
	}
	if _, _, _, err := l.ExecuteOrReplay(ctx, "task-1", "fp-2", execute); err != nil {
		t.Fatalf("fp-2: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected two distinct executions, got %d", calls)
	}
}
