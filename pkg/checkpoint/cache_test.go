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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/meridianstack/orchestrator/pkg/store"
)

func newTestOutputCache(t *testing.T) *OutputCache {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewOutputCache(s, nil)
}

func TestOutputCacheMissCallsGenerateAndPersists(t *testing.T) {
	c := newTestOutputCache(t)
	ctx := context.Background()
	key := Key("model", "prompt")

	var calls int32
	out, err := c.GetOrGenerate(ctx, key, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "result-1", nil
	})
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if out != "result-1" {
		t.Fatalf("unexpected output: %q", out)
	}

	out2, err := c.GetOrGenerate(ctx, key, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "should-not-run", nil
	})
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if out2 != "result-1" {
		t.Fatalf("expected cached result on second call, got %q", out2)
	}
	if calls != 1 {
		t.Fatalf("expected generate to run exactly once, ran %d times", calls)
	}
}

func TestOutputCacheCollapsesConcurrentIdenticalRequests(t *testing.T) {
	c := newTestOutputCache(t)
	ctx := context.Background()
	key := Key("model", "concurrent-prompt")

	var calls int32
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := c.GetOrGenerate(ctx, key, func(ctx context.Context) (string, error) {
				atomic.AddInt32(&calls, 1)
				return "single-result", nil
			})
			if err != nil {
				t.Errorf("GetOrGenerate: %v", err)
			}
			results[i] = out
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly one generate call across concurrent callers, got %d", calls)
	}
	for _, r := range results {
		if r != "single-result" {
			t.Fatalf("expected every caller to see the collapsed result, got %q", r)
		}
	}
}
