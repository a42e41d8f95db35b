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

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of work driven by the Runner. Once Status is terminal
// it is never mutated again except for ExitReason backfill.
type Task struct {
	ID        string     `json:"task_id"`
	Title     string     `json:"title"`
	RunMode   RunMode    `json:"run_mode"`
	Status    Status     `json:"status"`
	Metadata  Metadata   `json:"metadata"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	mu sync.RWMutex
}

// New creates a Task in StatusCreated.
func New(title string, mode RunMode) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.New().String(),
		Title:     title,
		RunMode:   mode,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetStatus returns the task's current status.
func (t *Task) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// Transition moves the task to `to` if the edge is legal, stamping
// UpdatedAt. It never mutates a terminal task except for exit reason
// backfill via SetExitReason.
func (t *Task) Transition(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return &TransitionError{From: t.Status, To: to, Reason: "task already terminal"}
	}
	if !IsLegalTransition(t.Status, to) {
		return &TransitionError{From: t.Status, To: to, Reason: "no such edge in the state machine"}
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}

// SetExitReason backfills the terminal exit reason. Legal only once the
// task is already terminal.
func (t *Task) SetExitReason(reason ExitReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ExitReason = reason
	t.UpdatedAt = time.Now()
}

// WithMetadata applies a mutation function to the task's metadata under
// lock and stamps UpdatedAt. Used instead of exposing Metadata directly so
// every mutation is observable and serialized.
func (t *Task) WithMetadata(fn func(*Metadata)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.Metadata)
	t.UpdatedAt = time.Now()
}

// Snapshot returns a copy of the task's metadata safe to read without
// holding the task's lock.
func (t *Task) Snapshot() Metadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Metadata
}

// TransitionError reports an illegal status transition attempt.
type TransitionError struct {
	From, To Status
	Reason   string
}

func (e *TransitionError) Error() string {
	return "illegal transition " + string(e.From) + " -> " + string(e.To) + ": " + e.Reason
}
