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

package adapters

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/meridianstack/orchestrator/pkg/tooladapter"
)

// CLIConfig configures a CLIAdapter.
type CLIConfig struct {
	Name       string
	Command    []string
	OutputKind tooladapter.OutputKind
	Timeout    time.Duration
}

// CLIAdapter spawns a local CLI tool and captures its stdout as the diff
// (or other output kind), grounded on mcptoolset.go's subprocess lifecycle:
// a fresh process per call, stdout fully captured, no working-tree mutation
// performed by the adapter itself.
type CLIAdapter struct {
	cfg CLIConfig
}

// NewCLIAdapter constructs a CLIAdapter.
func NewCLIAdapter(cfg CLIConfig) *CLIAdapter {
	if cfg.OutputKind == "" {
		cfg.OutputKind = tooladapter.OutputDiff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &CLIAdapter{cfg: cfg}
}

func (a *CLIAdapter) Name() string { return a.cfg.Name }

func (a *CLIAdapter) HealthCheck(ctx context.Context) (tooladapter.HealthReport, error) {
	if len(a.cfg.Command) == 0 {
		return tooladapter.HealthReport{Status: tooladapter.HealthNotConfigured, ErrorCategory: tooladapter.CategoryConfig}, nil
	}
	if _, err := exec.LookPath(a.cfg.Command[0]); err != nil {
		return tooladapter.HealthReport{Status: tooladapter.HealthUnreachable, ErrorCategory: tooladapter.CategoryRuntime, Details: err.Error()}, nil
	}
	return tooladapter.HealthReport{Status: tooladapter.HealthConnected}, nil
}

func (a *CLIAdapter) Run(ctx context.Context, task tooladapter.Task, allowMock bool) (tooladapter.ToolResult, error) {
	runID := fmt.Sprintf("cli-%d", time.Now().UnixNano())
	result := tooladapter.ToolResult{
		Tool:       a.Name(),
		ToolRunID:  runID,
		Provider:   tooladapter.ProviderLocal,
		OutputKind: a.cfg.OutputKind,
		Endpoint:   "local://" + a.cfg.Name,
	}

	if len(a.cfg.Command) == 0 {
		if !allowMock {
			result.Status = tooladapter.StatusFailed
			result.ErrorCategory = tooladapter.CategoryConfig
			result.ErrorMessage = "no command configured and mock fallback not permitted"
			return result, nil
		}
		result.Status = tooladapter.StatusSuccess
		result.MockUsed = true
		result.MockReason = "no command configured"
		result.Diff = mockDiffFor(task)
		return result, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.cfg.Command[0], a.cfg.Command[1:]...)
	cmd.Stdin = strings.NewReader(task.Prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case runCtx.Err() != nil:
		result.Status = tooladapter.StatusTimeout
		result.ErrorCategory = tooladapter.CategoryRuntime
		result.ErrorMessage = runCtx.Err().Error()
	case err != nil:
		result.Status = tooladapter.StatusFailed
		result.ErrorCategory = tooladapter.CategoryRuntime
		result.ErrorMessage = err.Error()
	default:
		result.Status = tooladapter.StatusSuccess
		if a.cfg.OutputKind == tooladapter.OutputDiff {
			result.Diff = result.Stdout
		}
	}
	return result, nil
}

func (a *CLIAdapter) Supports() tooladapter.ToolCapabilities {
	return tooladapter.ToolCapabilities{
		OutputKinds: []tooladapter.OutputKind{a.cfg.OutputKind},
		Provider:    tooladapter.ProviderLocal,
		MockCapable: true,
	}
}
