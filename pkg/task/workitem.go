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

// WorkItemStatus is the lifecycle of a single work item within a task.
type WorkItemStatus string

const (
	WorkItemPending   WorkItemStatus = "pending"
	WorkItemRunning   WorkItemStatus = "running"
	WorkItemCompleted WorkItemStatus = "completed"
	WorkItemFailed    WorkItemStatus = "failed"
)

// WorkItemOutput is a completed work item's result block. Invariant: a
// completed item's output is immutable — a future retry policy must not
// overwrite it, only add a new output and point ReplacementOf at the one
// it supersedes (open question, spec §9).
type WorkItemOutput struct {
	FilesChanged  []string `json:"files_changed,omitempty"`
	CommandsRun   []string `json:"commands_run,omitempty"`
	TestsRun      []string `json:"tests_run,omitempty"`
	Evidence      []string `json:"evidence,omitempty"`
	HandoffNotes  string   `json:"handoff_notes,omitempty"`
	ReplacementOf *string  `json:"replacement_of,omitempty"`
}

// WorkItem is a sub-task within a task, executed serially.
type WorkItem struct {
	ItemID       string         `json:"item_id"`
	Title        string         `json:"title"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       WorkItemStatus `json:"status"`
	Output       *WorkItemOutput `json:"output,omitempty"`
	RoleHint     string         `json:"role_hint,omitempty"`
}

// Ready reports whether every dependency in `completed` is satisfied.
func (w *WorkItem) Ready(completed map[string]bool) bool {
	for _, dep := range w.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// OrderWorkItems returns work items in a deterministic dependency-respecting
// serial order (topological, ties broken by input order). It returns an
// error if a cycle is detected — work items form a DAG by invariant.
func OrderWorkItems(items []*WorkItem) ([]*WorkItem, error) {
	byID := make(map[string]*WorkItem, len(items))
	for _, it := range items {
		byID[it.ItemID] = it
	}

	var ordered []*WorkItem
	completed := make(map[string]bool, len(items))
	visiting := make(map[string]bool, len(items))

	var visit func(it *WorkItem) error
	visit = func(it *WorkItem) error {
		if completed[it.ItemID] {
			return nil
		}
		if visiting[it.ItemID] {
			return &CycleError{ItemID: it.ItemID}
		}
		visiting[it.ItemID] = true
		for _, dep := range it.Dependencies {
			depItem, ok := byID[dep]
			if !ok {
				continue
			}
			if err := visit(depItem); err != nil {
				return err
			}
		}
		visiting[it.ItemID] = false
		completed[it.ItemID] = true
		ordered = append(ordered, it)
		return nil
	}

	for _, it := range items {
		if err := visit(it); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// CycleError reports a dependency cycle among work items.
type CycleError struct {
	ItemID string
}

func (e *CycleError) Error() string {
	return "work item dependency cycle detected at " + e.ItemID
}
