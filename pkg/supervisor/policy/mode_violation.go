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
)

// OnModeViolation handles a mode.violation event (the Runner emits one,
// at critical severity, whenever it blocks a task for a mode violation,
// e.g. an autonomous task reaching open_plan). info/warning
// severities are audited only; error/critical severities assign a
// guardian for verification and force the task into verifying.
type OnModeViolation struct{}

func (OnModeViolation) Name() string { return "mode_violation" }

func (p OnModeViolation) Handle(pc *PolicyContext) (decision.Verdict, []string, error) {
	severity, _ := pc.Event.Payload["severity"].(string)

	var verdict decision.Verdict
	var rules []string
	switch severity {
	case "error", "critical":
		rules = append(rules, "mode_violation_"+severity)
		verdict = decision.VerdictRequireReview
	default:
		rules = append(rules, "mode_violation_info")
		verdict = decision.VerdictAllowWithAudit
	}

	detail := fmt.Sprintf("mode violation at severity %s", pick(severity, "info"))
	if err := recordAndAudit(pc, p.Name(), pc.Event.Payload, rules, verdict, detail); err != nil {
		return "", nil, err
	}

	if verdict == decision.VerdictRequireReview {
		if err := markTaskStatus(pc, "verifying", "guardian_assigned_for_mode_violation"); err != nil {
			return "", nil, err
		}
	}
	return verdict, rules, nil
}
