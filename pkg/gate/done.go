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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// GateExecutionResult is one gate command's outcome, matching the
// gate_results.json artifact schema.
type GateExecutionResult struct {
	GateName        string  `json:"gate_name"`
	Status          string  `json:"status"`
	ExitCode        int     `json:"exit_code"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	DurationSeconds float64 `json:"duration_seconds"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// GateResults is the full gate_results.json artifact for one task's
// verification pass.
type GateResults struct {
	TaskID              string                 `json:"task_id"`
	GatesExecuted       []GateExecutionResult  `json:"gates_executed"`
	OverallStatus       string                 `json:"overall_status"`
	TotalDurationSeconds float64               `json:"total_duration_seconds"`
	ExecutedAt          time.Time              `json:"executed_at"`
}

const (
	GateStatusPassed = "passed"
	GateStatusFailed = "failed"
)

// CommandResolver maps a gate name to the command line that runs it (e.g.
// "doctor" -> ["make", "doctor"]). Keeping this as an injected function
// rather than a fixed map lets callers source it from project config.
type CommandResolver func(gateName string) ([]string, error)

// DoneGateRunner runs a sequence of DONE gates for a task, fast-failing on
// the first failing gate, grounded on the subprocess lifecycle idiom in
// the teacher's MCP stdio transport (spawn, wait, capture output,
// terminate on context cancellation) generalized from a long-lived server
// process to a one-shot command.
type DoneGateRunner struct {
	resolve    CommandResolver
	artifactDir string
	logger     *slog.Logger
}

// NewDoneGateRunner constructs a runner that writes gate_results.json
// under artifactDir/<task_id>/.
func NewDoneGateRunner(resolve CommandResolver, artifactDir string, logger *slog.Logger) *DoneGateRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DoneGateRunner{resolve: resolve, artifactDir: artifactDir, logger: logger}
}

// DefaultGates is the spec's default gate list when a task declares none.
var DefaultGates = []string{"doctor"}

// Run executes each gate in order, stopping at the first failure. It
// always writes the gate_results.json artifact, even on fail-fast, so the
// partial run is auditable.
func (r *DoneGateRunner) Run(ctx context.Context, taskID string, gateNames []string) (*GateResults, error) {
	if len(gateNames) == 0 {
		gateNames = DefaultGates
	}

	results := &GateResults{TaskID: taskID, OverallStatus: GateStatusPassed, ExecutedAt: time.Now().UTC()}
	start := time.Now()

	for _, name := range gateNames {
		res := r.runOne(ctx, name)
		results.GatesExecuted = append(results.GatesExecuted, res)
		if res.Status != GateStatusPassed {
			results.OverallStatus = GateStatusFailed
			break
		}
	}
	results.TotalDurationSeconds = time.Since(start).Seconds()

	if err := r.writeArtifact(taskID, results); err != nil {
		r.logger.Error("failed to write gate_results.json", "task_id", taskID, "error", err)
		return results, err
	}
	return results, nil
}

func (r *DoneGateRunner) runOne(ctx context.Context, gateName string) GateExecutionResult {
	res := GateExecutionResult{GateName: gateName}
	start := time.Now()

	cmdline, err := r.resolve(gateName)
	if err != nil {
		res.Status = GateStatusFailed
		res.ErrorMessage = fmt.Sprintf("resolve gate %q: %v", gateName, err)
		res.DurationSeconds = time.Since(start).Seconds()
		return res
	}
	if len(cmdline) == 0 {
		res.Status = GateStatusFailed
		res.ErrorMessage = fmt.Sprintf("gate %q resolved to an empty command", gateName)
		res.DurationSeconds = time.Since(start).Seconds()
		return res
	}

	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res.DurationSeconds = time.Since(start).Seconds()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode = cmd.ProcessState.ExitCode()

	if runErr != nil {
		res.Status = GateStatusFailed
		res.ErrorMessage = runErr.Error()
		return res
	}
	if res.ExitCode != 0 {
		res.Status = GateStatusFailed
		return res
	}
	res.Status = GateStatusPassed
	return res
}

func (r *DoneGateRunner) writeArtifact(taskID string, results *GateResults) error {
	dir := filepath.Join(r.artifactDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gate: create artifact dir: %w", err)
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("gate: marshal gate_results.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gate_results.json"), data, 0o644); err != nil {
		return fmt.Errorf("gate: write gate_results.json: %w", err)
	}
	return nil
}
