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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridianstack/orchestrator/pkg/config"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/task"
)

// TaskCmd groups the operator-facing task submission and inspection
// subcommands, grounded on cmd/hector/main.go's subcommand-struct pattern.
type TaskCmd struct {
	Submit  TaskSubmitCmd  `cmd:"" help:"Submit a new task."`
	Inspect TaskInspectCmd `cmd:"" help:"Print a task's current state, audit trail, and lineage."`
}

// TaskSubmitCmd creates a task row in StatusCreated. The Supervisor's
// polling reconciliation picks it up and routes it to OnTaskCreated on
// its next tick; submission does not wait for that to happen.
type TaskSubmitCmd struct {
	Title string `required:"" help:"Human-readable task title."`
	Mode  string `default:"assisted" help:"Run mode: interactive, assisted, or autonomous."`
}

func (c *TaskSubmitCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, _, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mode := task.RunMode(c.Mode)
	switch mode {
	case task.RunModeInteractive, task.RunModeAssisted, task.RunModeAutonomous:
	default:
		return fmt.Errorf("unknown run mode %q", c.Mode)
	}

	st, err := store.Open(ctx, cfg.Store.Path, slog.Default())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	t := task.New(c.Title, mode)
	if err := st.UpsertTask(ctx, store.TaskRow{
		TaskID: t.ID, Title: t.Title, Status: t.Status, RunMode: t.RunMode,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	fmt.Println(t.ID)
	return nil
}

// TaskInspectCmd prints a task's row, audit trail, and approval lineage.
type TaskInspectCmd struct {
	ID string `arg:"" help:"Task ID."`
}

func (c *TaskInspectCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, _, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store.Path, slog.Default())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	row, err := st.GetTask(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	fmt.Printf("task %s: %q status=%s mode=%s exit_reason=%s\n", row.TaskID, row.Title, row.Status, row.RunMode, row.ExitReason)

	fmt.Println("audit:")
	for entry, err := range st.ListAudit(ctx, c.ID) {
		if err != nil {
			return fmt.Errorf("list audit: %w", err)
		}
		fmt.Printf("  [%s] %s %s %v\n", entry.TS.Format("2006-01-02T15:04:05Z"), entry.Level, entry.EventType, entry.Payload)
	}

	fmt.Println("lineage:")
	for entry, err := range st.ListLineage(ctx, c.ID) {
		if err != nil {
			return fmt.Errorf("list lineage: %w", err)
		}
		fmt.Printf("  %+v\n", *entry)
	}

	return nil
}
