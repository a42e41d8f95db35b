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
	"strings"

	"github.com/meridianstack/orchestrator/pkg/decision"
	"github.com/meridianstack/orchestrator/pkg/tooladapter"
)

// nonRetryableCategories can never succeed on a bare retry: the
// configuration, credentials, or schema are wrong, not the attempt.
var nonRetryableCategories = map[tooladapter.ErrorCategory]bool{
	tooladapter.CategoryConfig: true,
	tooladapter.CategoryAuth:   true,
	tooladapter.CategorySchema: true,
}

// retryableCategories are attempt-scoped failures worth another try.
var retryableCategories = map[tooladapter.ErrorCategory]bool{
	tooladapter.CategoryNetwork: true,
	tooladapter.CategoryRuntime: true,
	tooladapter.CategoryModel:   true,
}

// nonRetryableKeywords is the heuristic fallback when no error_category
// was attached to the failure event at all.
var nonRetryableKeywords = []string{"permission denied", "invalid credentials", "not found", "unauthorized", "forbidden", "malformed"}

// OnTaskFailed classifies the failure and, if retry_count is still within
// max_retries and the failure looks retryable, returns RETRY (an
// audit-only signal — the task lifecycle, not this policy, performs the
// actual retry). Otherwise it BLOCKs the task.
type OnTaskFailed struct{}

func (OnTaskFailed) Name() string { return "task_failed" }

func (p OnTaskFailed) Handle(pc *PolicyContext) (decision.Verdict, []string, error) {
	retryCount, _ := pc.Event.Payload["retry_count"].(float64)
	maxRetries, _ := pc.Event.Payload["max_retries"].(float64)
	category, _ := pc.Event.Payload["error_category"].(string)
	message, _ := pc.Event.Payload["error_message"].(string)

	var rules []string
	retryable := classifyRetryable(tooladapter.ErrorCategory(category), message, &rules)

	verdict := decision.VerdictBlock
	if retryable && int(retryCount) <= int(maxRetries) {
		rules = append(rules, "retry_budget_available")
		verdict = decision.VerdictRetry
	} else if !retryable {
		rules = append(rules, "non_retryable_classification")
	} else {
		rules = append(rules, "retry_budget_exhausted")
	}

	detail := fmt.Sprintf("classified as %s, retry_count=%d max_retries=%d", pick(category, "unclassified"), int(retryCount), int(maxRetries))
	if err := recordAndAudit(pc, p.Name(), pc.Event.Payload, rules, verdict, detail); err != nil {
		return "", nil, err
	}

	if verdict == decision.VerdictBlock {
		if err := markTaskStatus(pc, "blocked", "task_failed_non_retryable"); err != nil {
			return "", nil, err
		}
	}
	return verdict, rules, nil
}

func classifyRetryable(category tooladapter.ErrorCategory, message string, rules *[]string) bool {
	if category != "" {
		if nonRetryableCategories[category] {
			*rules = append(*rules, "category_non_retryable")
			return false
		}
		if retryableCategories[category] {
			*rules = append(*rules, "category_retryable")
			return true
		}
	}
	lower := strings.ToLower(message)
	for _, kw := range nonRetryableKeywords {
		if strings.Contains(lower, kw) {
			*rules = append(*rules, "keyword_non_retryable")
			return false
		}
	}
	*rules = append(*rules, "heuristic_default_retryable")
	return true
}

func pick(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
