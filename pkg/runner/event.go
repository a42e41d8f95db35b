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

package runner

import (
	"time"

	"github.com/meridianstack/orchestrator/pkg/task"
)

// EventType names the kind of progress event a Run emits.
type EventType string

const (
	EventStatusChanged    EventType = "status_changed"
	EventWorkItemStarted  EventType = "work_item_started"
	EventWorkItemFinished EventType = "work_item_finished"
	EventCheckpoint       EventType = "checkpoint"
	EventGateResult       EventType = "gate_result"
	EventBlocked          EventType = "blocked"
	EventDone             EventType = "done"
)

// Event is one step of Run's progress stream, yielded alongside (or instead
// of) an error so a caller can drive a UI or log line without re-deriving
// the task's status from the store.
type Event struct {
	Type      EventType
	TaskID    string
	Status    task.Status
	WorkItem  string
	Detail    string
	TS        time.Time
}

func newEvent(t *task.Task, typ EventType, workItem, detail string) *Event {
	return &Event{
		Type:     typ,
		TaskID:   t.ID,
		Status:   t.GetStatus(),
		WorkItem: workItem,
		Detail:   detail,
		TS:       time.Now().UTC(),
	}
}
