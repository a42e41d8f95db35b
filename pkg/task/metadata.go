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

package task

import "time"

// Metadata is the tagged-variant replacement for the source's open-ended
// dict payload (design note §9). Each concern gets its own typed, optional
// field; Extra survives anything not yet modeled so forward-compat doesn't
// require a schema migration for every new consumer.
type Metadata struct {
	PauseState         *PauseState         `json:"pause_state,omitempty" mapstructure:"pause_state,omitempty"`
	TimeoutState       *TimeoutState       `json:"timeout_state,omitempty" mapstructure:"timeout_state,omitempty"`
	RoutePlan          *RoutePlan          `json:"route_plan,omitempty" mapstructure:"route_plan,omitempty"`
	WorkItemsMetadata  *WorkItemsMetadata  `json:"work_items,omitempty" mapstructure:"work_items,omitempty"`
	GateFailureContext *GateFailureContext `json:"gate_failure_context,omitempty" mapstructure:"gate_failure_context,omitempty"`

	RetryCount   int      `json:"retry_count,omitempty" mapstructure:"retry_count,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty" mapstructure:"max_retries,omitempty"`
	Gates        []string `json:"gates,omitempty" mapstructure:"gates,omitempty"`
	ProjectID    string   `json:"project_id,omitempty" mapstructure:"project_id,omitempty"`
	NLRequest    string   `json:"nl_request,omitempty" mapstructure:"nl_request,omitempty"`
	CancelSignal bool     `json:"cancel_signal,omitempty" mapstructure:"cancel_signal,omitempty"`

	// Extra is the forward-compatible residual extension map: anything a
	// future consumer needs that doesn't yet have a typed home.
	Extra map[string]any `json:"extra,omitempty" mapstructure:",remain"`
}

// PauseState records why and where a task is paused.
type PauseState struct {
	Checkpoint string    `json:"checkpoint"`
	Reason     string    `json:"reason"`
	PausedAt   time.Time `json:"paused_at"`
}

// TimeoutState tracks a task's timeout configuration and progress.
type TimeoutState struct {
	WarnTimeout    time.Duration `json:"warn_timeout"`
	HardTimeout    time.Duration `json:"hard_timeout"`
	StartedAt      time.Time     `json:"started_at"`
	LastHeartbeat  time.Time     `json:"last_heartbeat"`
	WarnedAt       *time.Time    `json:"warned_at,omitempty"`
}

// Elapsed returns how long the task has been running as of now.
func (t *TimeoutState) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.StartedAt)
}

// RoutePlan records the planning pipeline's chosen execution route and the
// fallback chain consulted if that route becomes unreachable.
type RoutePlan struct {
	From         string   `json:"from"`
	To           string   `json:"to,omitempty"`
	ReasonCode   string   `json:"reason_code,omitempty"`
	FallbackChain []string `json:"fallback_chain,omitempty"`
	Rerouted     bool     `json:"rerouted"`
}

// WorkItemsMetadata is the planning pipeline's declared work item list,
// extracted into metadata on a successful planning checkpoint.
type WorkItemsMetadata struct {
	ItemIDs []string `json:"item_ids"`
}

// GateFailureContext carries a failed DONE gate's detail back to the next
// planning iteration so the plan can incorporate the failure.
type GateFailureContext struct {
	GateName   string `json:"gate_name"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	FailedAt   time.Time `json:"failed_at"`
}
