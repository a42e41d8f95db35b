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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meridianstack/orchestrator/pkg/task"
)

// openPlanArtifact is the open_plan.json schema: a machine-readable summary
// of the plan a task committed to at the open_plan checkpoint, grounded on
// gate.GateResults' "one artifact struct per persisted file" shape.
type openPlanArtifact struct {
	TaskID          string         `json:"task_id"`
	GeneratedAt     time.Time      `json:"generated_at"`
	PipelineStatus  string         `json:"pipeline_status"`
	PipelineSummary string         `json:"pipeline_summary"`
	Stages          []planStage    `json:"stages"`
}

// planStage is one work item's place in the committed plan.
type planStage struct {
	ItemID       string   `json:"item_id"`
	Title        string   `json:"title"`
	Dependencies []string `json:"dependencies,omitempty"`
	RoleHint     string   `json:"role_hint,omitempty"`
}

// workItemArtifact is the work_item_<ITEM_ID>.json schema: one item's
// output block plus enough surrounding context to read it standalone.
type workItemArtifact struct {
	TaskID    string              `json:"task_id"`
	ItemID    string              `json:"item_id"`
	Title     string              `json:"title"`
	Status    task.WorkItemStatus `json:"status"`
	Output    *task.WorkItemOutput `json:"output,omitempty"`
	WrittenAt time.Time           `json:"written_at"`
}

// workItemsSummaryArtifact is the work_items_summary.json schema: the
// aggregated outcome of every work item in a task, written once execution
// has run every item to completion or failure.
type workItemsSummaryArtifact struct {
	TaskID      string               `json:"task_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Total       int                  `json:"total"`
	Completed   int                  `json:"completed"`
	Failed      int                  `json:"failed"`
	Items       []workItemSummaryRow `json:"items"`
}

type workItemSummaryRow struct {
	ItemID string              `json:"item_id"`
	Title  string              `json:"title"`
	Status task.WorkItemStatus `json:"status"`
}

// writeOpenPlan persists open_plan.json at the planning/execution fork,
// once the work item list is known.
func (r *Runner) writeOpenPlan(t *task.Task, items []*task.WorkItem, status string) {
	stages := make([]planStage, 0, len(items))
	for _, it := range items {
		stages = append(stages, planStage{
			ItemID:       it.ItemID,
			Title:        it.Title,
			Dependencies: it.Dependencies,
			RoleHint:     it.RoleHint,
		})
	}
	plan := openPlanArtifact{
		TaskID:          t.ID,
		GeneratedAt:     time.Now().UTC(),
		PipelineStatus:  status,
		PipelineSummary: fmt.Sprintf("%d work item(s) planned", len(items)),
		Stages:          stages,
	}
	r.writeArtifact(t.ID, "open_plan.json", plan)
}

// writeWorkItem persists work_item_<ITEM_ID>.json after a work item reaches
// a terminal status (completed or failed).
func (r *Runner) writeWorkItem(taskID string, it *task.WorkItem) {
	artifact := workItemArtifact{
		TaskID:    taskID,
		ItemID:    it.ItemID,
		Title:     it.Title,
		Status:    it.Status,
		Output:    it.Output,
		WrittenAt: time.Now().UTC(),
	}
	r.writeArtifact(taskID, fmt.Sprintf("work_item_%s.json", it.ItemID), artifact)
}

// writeWorkItemsSummary persists work_items_summary.json once every work
// item in the task has reached a terminal status.
func (r *Runner) writeWorkItemsSummary(taskID string, items []*task.WorkItem) {
	summary := workItemsSummaryArtifact{
		TaskID:      taskID,
		GeneratedAt: time.Now().UTC(),
		Total:       len(items),
	}
	for _, it := range items {
		summary.Items = append(summary.Items, workItemSummaryRow{
			ItemID: it.ItemID,
			Title:  it.Title,
			Status: it.Status,
		})
		switch it.Status {
		case task.WorkItemCompleted:
			summary.Completed++
		case task.WorkItemFailed:
			summary.Failed++
		}
	}
	r.writeArtifact(taskID, "work_items_summary.json", summary)
}

// writeArtifact marshals v as indented JSON to artifactDir/<task_id>/name,
// matching gate.DoneGateRunner's gate_results.json persistence.
func (r *Runner) writeArtifact(taskID, name string, v any) {
	dir := filepath.Join(r.artifactDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Error("runner: create artifact dir", "task_id", taskID, "error", err)
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.logger.Error("runner: marshal artifact", "task_id", taskID, "name", name, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		r.logger.Error("runner: write artifact", "task_id", taskID, "name", name, "error", err)
	}
}
