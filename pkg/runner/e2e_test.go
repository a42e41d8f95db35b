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

// End-to-end scenarios driving a real *Runner against a real on-disk
// SQLite Store and a real artifact directory, matching spec.md's
// "concrete end-to-end scenarios" for the Task Runner.
package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/meridianstack/orchestrator/pkg/checkpoint"
	"github.com/meridianstack/orchestrator/pkg/gate"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/task"
	"github.com/meridianstack/orchestrator/pkg/tooladapter"
)

// RunnerE2ESuite sets up a fresh in-memory Store and on-disk artifact
// directory per test, grounded on pool_test.go/runner_test.go's
// newTestRunner helper but with a real gate.DoneGateRunner wired in so
// the full planning/executing/verifying lifecycle runs unmodified.
type RunnerE2ESuite struct {
	suite.Suite

	store       *store.Store
	artifactDir string
}

func TestRunnerE2ESuite(t *testing.T) {
	suite.Run(t, new(RunnerE2ESuite))
}

func (s *RunnerE2ESuite) SetupTest() {
	st, err := store.Open(context.Background(), ":memory:", nil)
	s.Require().NoError(err)
	s.store = st
	s.artifactDir = s.T().TempDir()
}

func (s *RunnerE2ESuite) TearDownTest() {
	s.store.Close()
}

func (s *RunnerE2ESuite) newRunner(tools *tooladapter.Registry, gates *gate.DoneGateRunner) *Runner {
	r, err := New(Config{
		Store:        s.store,
		Checkpoints:  checkpoint.NewManager(s.store, nil),
		Leases:       checkpoint.NewLeaseManager(s.store, time.Minute),
		Tools:        tools,
		Gates:        gates,
		PollInterval: time.Millisecond,
		ArtifactDir:  s.artifactDir,
	})
	s.Require().NoError(err)
	return r
}

func (s *RunnerE2ESuite) seedItem(taskID, itemID, toolName string) {
	item := &task.WorkItem{ItemID: itemID, Title: "work on " + itemID, Status: task.WorkItemPending, RoleHint: toolName}
	s.Require().NoError(s.store.UpsertWorkItem(context.Background(), taskID, item))
}

func alwaysPassResolver(gateName string) ([]string, error) { return []string{"true"}, nil }

// TestHappyPath mirrors spec.md's happy-path scenario: an assisted task
// with two work items and a DONE gate that passes, approved once at
// open_plan, reaches succeeded with every artifact file on disk.
func (s *RunnerE2ESuite) TestHappyPath() {
	registry := tooladapter.NewRegistry(nil, nil)
	registry.Register(&stubAdapter{name: "noop", result: tooladapter.ToolResult{
		Status: tooladapter.StatusSuccess, Provider: tooladapter.ProviderLocal, OutputKind: tooladapter.OutputAnalysis, ToolRunID: "run-1",
	}})
	gates := gate.NewDoneGateRunner(alwaysPassResolver, s.artifactDir, nil)
	r := s.newRunner(registry, gates)

	tk := task.New("ship the feature", task.RunModeAssisted)
	tk.WithMetadata(func(m *task.Metadata) {
		m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1", "item-2"}}
		m.Gates = []string{"doctor"}
		m.Extra = map[string]any{"requires_approval": true}
	})
	s.seedItem(tk.ID, "item-1", "noop")
	s.seedItem(tk.ID, "item-2", "noop")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sawPause bool
	for ev, err := range r.Run(ctx, tk) {
		s.Require().NoError(err)
		_ = ev
		if tk.GetStatus() == task.StatusAwaitingApproval && tk.Snapshot().PauseState != nil {
			sawPause = true
			tk.WithMetadata(func(m *task.Metadata) { m.PauseState = nil })
		}
		if tk.GetStatus().IsTerminal() {
			break
		}
	}

	s.True(sawPause, "expected the plan to pause for approval at least once")
	s.Equal(task.StatusSucceeded, tk.GetStatus())
	s.Equal(task.ExitDone, tk.ExitReason)

	dir := filepath.Join(s.artifactDir, tk.ID)
	for _, name := range []string{"open_plan.json", "work_item_item-1.json", "work_item_item-2.json", "work_items_summary.json", "gate_results.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		s.Require().NoErrorf(err, "expected artifact %s to exist", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "gate_results.json"))
	s.Require().NoError(err)
	var results gate.GateResults
	s.Require().NoError(json.Unmarshal(data, &results))
	s.Equal(gate.GateStatusPassed, results.OverallStatus)

	summaryData, err := os.ReadFile(filepath.Join(dir, "work_items_summary.json"))
	s.Require().NoError(err)
	var summary workItemsSummaryArtifact
	s.Require().NoError(json.Unmarshal(summaryData, &summary))
	s.Equal(2, summary.Total)
	s.Equal(2, summary.Completed)
}

// TestAutonomousBlocked mirrors spec.md's autonomous-blocked scenario: a
// plan that demands approval can never be approved in autonomous mode, so
// the task is blocked rather than paused, yet the open_plan artifact was
// still written before the block was detected.
func (s *RunnerE2ESuite) TestAutonomousBlocked() {
	registry := tooladapter.NewRegistry(nil, nil)
	r := s.newRunner(registry, nil)

	tk := task.New("risky autonomous change", task.RunModeAutonomous)
	tk.WithMetadata(func(m *task.Metadata) {
		m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}}
		m.Extra = map[string]any{"requires_approval": true}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := drainRun(r, ctx, tk)
	s.Require().NoError(err)

	s.Equal(task.StatusBlocked, tk.GetStatus())
	s.Equal(task.ExitBlocked, tk.ExitReason)

	_, statErr := os.Stat(filepath.Join(s.artifactDir, tk.ID, "open_plan.json"))
	s.NoError(statErr, "open_plan.json should be written before the autonomous block is detected")
}

// TestGateFailureThenPass mirrors spec.md's gate-failure-then-pass
// scenario: the "tests" gate fails on the first verifying pass, sending
// the task back to planning, and passes on the second.
func (s *RunnerE2ESuite) TestGateFailureThenPass() {
	registry := tooladapter.NewRegistry(nil, nil)
	registry.Register(&stubAdapter{name: "noop", result: tooladapter.ToolResult{
		Status: tooladapter.StatusSuccess, Provider: tooladapter.ProviderLocal, OutputKind: tooladapter.OutputAnalysis, ToolRunID: "run-1",
	}})

	var testsAttempts int32
	resolver := func(gateName string) ([]string, error) {
		if gateName == "tests" && atomic.AddInt32(&testsAttempts, 1) == 1 {
			return []string{"false"}, nil
		}
		return []string{"true"}, nil
	}
	gates := gate.NewDoneGateRunner(resolver, s.artifactDir, nil)
	r := s.newRunner(registry, gates)

	tk := task.New("flaky tests", task.RunModeAutonomous)
	tk.WithMetadata(func(m *task.Metadata) {
		m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}}
		m.Gates = []string{"doctor", "tests"}
	})
	s.seedItem(tk.ID, "item-1", "noop")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sawReplan bool
	for ev, err := range r.Run(ctx, tk) {
		s.Require().NoError(err)
		_ = ev
		if tk.Snapshot().GateFailureContext != nil {
			sawReplan = true
		}
		if tk.GetStatus().IsTerminal() {
			break
		}
	}

	s.True(sawReplan, "expected a recorded gate failure context after the first verifying pass")
	s.Equal(task.StatusSucceeded, tk.GetStatus())
	s.Equal(int32(2), atomic.LoadInt32(&testsAttempts), "expected the tests gate to run exactly twice")
}

// TestHardTimeout mirrors spec.md's timeout scenario: a task stuck
// indefinitely awaiting approval exceeds its hard timeout and fails with
// exit_reason=timeout rather than hanging forever.
func (s *RunnerE2ESuite) TestHardTimeout() {
	registry := tooladapter.NewRegistry(nil, nil)
	r, err := New(Config{
		Store:              s.store,
		Checkpoints:        checkpoint.NewManager(s.store, nil),
		Leases:             checkpoint.NewLeaseManager(s.store, time.Minute),
		Tools:              registry,
		PollInterval:       5 * time.Millisecond,
		DefaultHardTimeout: 30 * time.Millisecond,
		ArtifactDir:        s.artifactDir,
	})
	require.NoError(s.T(), err)

	tk := task.New("stuck awaiting approval", task.RunModeInteractive)
	tk.WithMetadata(func(m *task.Metadata) {
		m.WorkItemsMetadata = &task.WorkItemsMetadata{ItemIDs: []string{"item-1"}}
		m.Extra = map[string]any{"requires_approval": true}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = drainRun(r, ctx, tk)
	s.Require().NoError(err)

	s.Equal(task.StatusFailed, tk.GetStatus())
	s.Equal(task.ExitTimeout, tk.ExitReason)
}
