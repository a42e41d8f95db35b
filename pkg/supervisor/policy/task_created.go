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

package policy

import (
	"fmt"

	"github.com/meridianstack/orchestrator/pkg/decision"
	"github.com/meridianstack/orchestrator/pkg/gate"
	"github.com/meridianstack/orchestrator/pkg/risk"
)

// OnTaskCreated runs redline validators on any declared role/command/rule
// attached to the event payload, evaluates intent conflict and risk if
// dimensions are attached, and resolves to BLOCK on any high/critical
// finding, PAUSE at open_plan on any medium finding, else ALLOW.
type OnTaskCreated struct{}

func (OnTaskCreated) Name() string { return "task_created" }

func (p OnTaskCreated) Handle(pc *PolicyContext) (decision.Verdict, []string, error) {
	var rules []string
	verdict := decision.VerdictAllow

	if spec, ok := pc.Event.Payload["role_spec"]; ok {
		if err := runRedline(pc.Redline, gate.RoleSpec{}, spec); err != nil {
			rules = append(rules, "redline_role")
			verdict = decision.Merge(verdict, decision.VerdictBlock)
		}
	}
	if spec, ok := pc.Event.Payload["command_spec"]; ok {
		if err := runRedline(pc.Redline, gate.CommandSpec{}, spec); err != nil {
			rules = append(rules, "redline_command")
			verdict = decision.Merge(verdict, decision.VerdictBlock)
		}
	}
	if spec, ok := pc.Event.Payload["rule_spec"]; ok {
		if err := runRedline(pc.Redline, gate.RuleSpec{}, spec); err != nil {
			rules = append(rules, "redline_rule")
			verdict = decision.Merge(verdict, decision.VerdictBlock)
		}
	}

	if pc.RiskScorer != nil {
		if _, hasIntent := pc.Event.Payload["intent_set"]; hasIntent {
			dims := dimensionsFromPayload(pc.Event.Payload)
			assessment, err := pc.RiskScorer.Score(pc.Ctx, pc.Event.TaskID, dims)
			if err != nil {
				return "", nil, fmt.Errorf("policy.OnTaskCreated: score risk: %w", err)
			}
			rules = append(rules, "intent_risk_"+string(assessment.Level))
			switch assessment.Level {
			case risk.LevelCritical, risk.LevelHigh:
				verdict = decision.Merge(verdict, decision.VerdictBlock)
			case risk.LevelMedium:
				verdict = decision.Merge(verdict, decision.VerdictPause)
			}
		}
	}

	detail := fmt.Sprintf("task_created evaluated, %d rule(s) triggered", len(rules))
	if err := recordAndAudit(pc, p.Name(), pc.Event.Payload, rules, verdict, detail); err != nil {
		return "", nil, err
	}

	switch verdict {
	case decision.VerdictBlock:
		if err := markTaskStatus(pc, "blocked", "blocked_by_policy"); err != nil {
			return "", nil, err
		}
	case decision.VerdictPause:
		if err := recordPauseCheckpoint(pc); err != nil {
			return "", nil, err
		}
	}
	return verdict, rules, nil
}

// runRedline type-asserts payload into T's shape and runs every validator
// against it. A nil validator slice always passes (no validators wired).
func runRedline[T any](validators []gate.RedlineValidator, _ T, payload any) error {
	spec, ok := payload.(T)
	if !ok {
		return nil
	}
	for _, v := range validators {
		if err := v.Validate(spec); err != nil {
			return err
		}
	}
	return nil
}

func dimensionsFromPayload(payload map[string]any) risk.Dimensions {
	f := func(key string) float64 {
		v, _ := payload[key].(float64)
		return v
	}
	return risk.Dimensions{
		ErrorRate:     f("error_rate"),
		ResourceUsage: f("resource_usage"),
		SecurityScore: f("security_score"),
		WriteRatio:    f("write_ratio"),
		ExternalCall:  f("external_call"),
	}
}
