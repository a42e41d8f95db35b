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

package gate

import (
	"github.com/meridianstack/orchestrator/pkg/orcherr"
	"github.com/meridianstack/orchestrator/pkg/task"
)

// OpenPlanCheckpoint is the only legal pause checkpoint in v1.
const OpenPlanCheckpoint = "open_plan"

// PauseGate enforces spec.md §4.3's pause red line: the Orchestrator may
// only ever pause at the open_plan checkpoint, and only in interactive or
// assisted run mode.
type PauseGate struct{}

// CanPauseAt reports whether pausing at checkpoint under mode is legal.
// It never returns an error; callers that reach an illegal checkpoint
// should call RequirePause to get the orcherr.ErrIllegalPauseCheckpoint
// error for propagation.
func (PauseGate) CanPauseAt(checkpoint string, mode task.RunMode) bool {
	if checkpoint != OpenPlanCheckpoint {
		return false
	}
	return mode == task.RunModeInteractive || mode == task.RunModeAssisted
}

// RequirePause returns nil if pausing at checkpoint under mode is legal,
// else orcherr.ErrIllegalPauseCheckpoint.
func (g PauseGate) RequirePause(checkpoint string, mode task.RunMode) error {
	if g.CanPauseAt(checkpoint, mode) {
		return nil
	}
	return orcherr.ErrIllegalPauseCheckpoint
}

// IsAutonomousBlocked reports the "autonomous-blocked" red line: an
// autonomous task that reaches the open_plan checkpoint can never legally
// pause there, so the runner must mark it blocked instead.
func IsAutonomousBlocked(checkpoint string, mode task.RunMode) bool {
	return checkpoint == OpenPlanCheckpoint && mode == task.RunModeAutonomous
}
