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

package supervisor

import (
	"testing"

	"github.com/meridianstack/orchestrator/pkg/decision"
	"github.com/meridianstack/orchestrator/pkg/supervisor/policy"
)

type stubPolicy struct{ name string }

func (s stubPolicy) Name() string { return s.name }
func (s stubPolicy) Handle(pc *policy.PolicyContext) (decision.Verdict, []string, error) {
	return decision.VerdictAllow, nil, nil
}

func TestRouterExactMatchWinsOverPrefix(t *testing.T) {
	r := NewRouter()
	exact := stubPolicy{"exact"}
	prefix := stubPolicy{"prefix"}
	r.RegisterExact("task.created", exact)
	r.RegisterPrefix("task.", prefix)

	got := r.Match("task.created")
	if got.Name() != "exact" {
		t.Fatalf("Match = %s, want exact", got.Name())
	}
}

func TestRouterLongestPrefixWins(t *testing.T) {
	r := NewRouter()
	short := stubPolicy{"short"}
	long := stubPolicy{"long"}
	r.RegisterPrefix("task.", short)
	r.RegisterPrefix("task.step_", long)

	got := r.Match("task.step_completed")
	if got.Name() != "long" {
		t.Fatalf("Match = %s, want long", got.Name())
	}
}

func TestRouterFallsBackToDefault(t *testing.T) {
	r := NewRouter()
	def := stubPolicy{"default"}
	r.RegisterDefault(def)

	got := r.Match("unregistered.event")
	if got.Name() != "default" {
		t.Fatalf("Match = %s, want default", got.Name())
	}
}

func TestRouterMatchReturnsNilWhenNothingMatches(t *testing.T) {
	r := NewRouter()
	if got := r.Match("unregistered.event"); got != nil {
		t.Fatalf("Match = %v, want nil", got)
	}
}
