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

package risk

import (
	"context"
	"testing"

	"github.com/meridianstack/orchestrator/pkg/store"
)

func TestScoreWithoutSink(t *testing.T) {
	s := NewScorer(nil)
	a, err := s.Score(context.Background(), "task-1", Dimensions{})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if a.Level != LevelLow {
		t.Fatalf("expected low risk for all-zero dimensions, got %s", a.Level)
	}
}

func TestScoreEscalatesWithWriteAndExternalCall(t *testing.T) {
	s := NewScorer(nil)
	a, err := s.Score(context.Background(), "task-2", Dimensions{
		WriteRatio:    1.0,
		ExternalCall:  1.0,
		SecurityScore: 1.0,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !MoreSevere(a.Level, LevelLow) {
		t.Fatalf("expected escalated risk, got %s (score %.1f)", a.Level, a.Score)
	}
}

func TestScoreRecordsToTimeline(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	tl := NewTimeline(s)
	scorer := NewScorer(tl)

	if _, err := scorer.Score(ctx, "task-3", Dimensions{ErrorRate: 0.9, SecurityScore: 0.9}); err != nil {
		t.Fatalf("Score: %v", err)
	}

	latest, ok, err := tl.Latest(ctx, "task-3")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok {
		t.Fatal("expected a recorded assessment")
	}
	if latest.Score <= 0 {
		t.Fatalf("expected a positive recorded score, got %.1f", latest.Score)
	}
}

func TestMoreSevereOrdering(t *testing.T) {
	if !MoreSevere(LevelCritical, LevelHigh) {
		t.Fatal("expected critical to be more severe than high")
	}
	if MoreSevere(LevelLow, LevelMedium) {
		t.Fatal("expected low to not be more severe than medium")
	}
}
