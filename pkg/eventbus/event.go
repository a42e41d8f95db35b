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

// Package eventbus implements the single-process, fire-and-forget
// publish/subscribe broadcaster described in the component design: sync
// subscribers run inline in emit order, async subscribers run on their own
// goroutine and are never awaited by the publisher.
package eventbus

import "time"

// Entity identifies the subject of an Event.
type Entity struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Source distinguishes who raised the event.
type Source string

const (
	SourceCore  Source = "core"
	SourceWebUI Source = "webui"
)

// Event is the bus's wire shape. Type is a dotted namespace, e.g.
// "task.progress", "mode.violation".
type Event struct {
	Type    string         `json:"type"`
	TS      time.Time      `json:"ts"`
	Source  Source         `json:"source"`
	Entity  Entity         `json:"entity"`
	Payload map[string]any `json:"payload"`
}

// New builds an Event stamped with the current time.
func New(eventType string, source Source, entity Entity, payload map[string]any) Event {
	return Event{
		Type:    eventType,
		TS:      time.Now().UTC(),
		Source:  source,
		Entity:  entity,
		Payload: payload,
	}
}
