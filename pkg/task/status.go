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

// Package task defines the Task Lifecycle data model: the task entity, its
// status enum and legal transitions, work items, and the typed metadata
// that replaces the source's open-ended dict payload (design note: dynamic
// dataclass metadata).
package task

// Status is one node of the task state machine. Nothing outside this set
// is a legal status; see IsLegalTransition for the edges.
type Status string

const (
	StatusCreated           Status = "created"
	StatusIntentProcessing  Status = "intent_processing"
	StatusPlanning          Status = "planning"
	StatusAwaitingApproval  Status = "awaiting_approval"
	StatusExecuting         Status = "executing"
	StatusVerifying         Status = "verifying"
	StatusSucceeded         Status = "succeeded"
	StatusFailed            Status = "failed"
	StatusCanceled          Status = "canceled"
	StatusBlocked           Status = "blocked"
)

// IsTerminal reports whether a task in this status never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusBlocked:
		return true
	default:
		return false
	}
}

// legalEdges enumerates every edge in §4.7's state machine. "any" terminal
// transitions (failed/canceled/blocked) are checked separately since they
// may occur from any non-terminal status.
var legalEdges = map[Status]map[Status]bool{
	StatusCreated:          {StatusIntentProcessing: true},
	StatusIntentProcessing: {StatusPlanning: true},
	StatusPlanning:         {StatusAwaitingApproval: true, StatusExecuting: true},
	StatusAwaitingApproval: {StatusExecuting: true},
	StatusExecuting:        {StatusVerifying: true},
	StatusVerifying:        {StatusSucceeded: true, StatusPlanning: true},
}

// IsLegalTransition reports whether moving from `from` to `to` is one of
// the edges named in §4.7, including the "any -> terminal" escape edges.
func IsLegalTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCanceled || to == StatusBlocked {
		return true
	}
	edges, ok := legalEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// NonTerminalStatuses lists every status a task pool must keep polling,
// i.e. every status for which IsTerminal is false.
func NonTerminalStatuses() []Status {
	return []Status{
		StatusCreated, StatusIntentProcessing, StatusPlanning,
		StatusAwaitingApproval, StatusExecuting, StatusVerifying,
	}
}

// ExitReason is written to the task row on terminal transition.
type ExitReason string

const (
	ExitDone          ExitReason = "done"
	ExitBlocked       ExitReason = "blocked"
	ExitUserCancelled ExitReason = "user_cancelled"
	ExitTimeout       ExitReason = "timeout"
	ExitFatalError    ExitReason = "fatal_error"
	ExitMaxIterations ExitReason = "max_iterations"
)

// RunMode controls whether and where a task may legally pause.
type RunMode string

const (
	RunModeInteractive RunMode = "interactive"
	RunModeAssisted    RunMode = "assisted"
	RunModeAutonomous  RunMode = "autonomous"
)
