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

// Package checkpoint implements the Orchestrator's checkpoint, lease, and
// idempotency machinery on top of pkg/store: beginStep/commitStep/
// verifyCheckpoint, work-item leases, the LLM output cache, and the tool
// ledger.
package checkpoint

import "time"

// Type is why a checkpoint was created.
type Type string

const (
	TypeOpenPlan Type = "open_plan"
	TypeStep     Type = "step"
	TypeGate     Type = "gate"
	TypeError    Type = "error"
)

// State is the in-memory shape of one checkpoint before and after it is
// persisted via the Manager. Snapshot carries whatever the caller needs to
// resume from this point; EvidencePack carries what Verify checks against.
type State struct {
	CheckpointID   string
	TaskID         string
	WorkItemID     string
	SequenceNumber int64
	CheckpointType Type
	Snapshot       map[string]any
	EvidencePack   map[string]any
	CreatedAt      time.Time
	VerifiedAt     *time.Time
	Error          string
}

// WithSnapshot sets the resumable state payload.
func (s *State) WithSnapshot(snapshot map[string]any) *State {
	s.Snapshot = snapshot
	return s
}

// WithEvidence sets the evidence pack Verify checks against.
func (s *State) WithEvidence(evidence map[string]any) *State {
	s.EvidencePack = evidence
	return s
}

// WithError marks the checkpoint as an error checkpoint.
func (s *State) WithError(err error) *State {
	if err != nil {
		s.Error = err.Error()
		s.CheckpointType = TypeError
	}
	return s
}

// IsExpired reports whether the checkpoint is older than timeout. A
// zero timeout means no expiry is configured.
func (s *State) IsExpired(timeout time.Duration) bool {
	if s.CreatedAt.IsZero() || timeout <= 0 {
		return false
	}
	return time.Since(s.CreatedAt) > timeout
}

// IsRecoverable reports whether a runner may resume from this checkpoint:
// it must be verified and must not be an error checkpoint.
func (s *State) IsRecoverable() bool {
	return s.VerifiedAt != nil && s.CheckpointType != TypeError
}

// NeedsUserInput reports whether this checkpoint is the one legal pause
// point, open_plan, which always requires human approval to proceed.
func (s *State) NeedsUserInput() bool {
	return s.CheckpointType == TypeOpenPlan
}
