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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridianstack/orchestrator/pkg/mcp"
	"github.com/meridianstack/orchestrator/pkg/tooladapter"
)

// MCPConfig configures an MCPAdapter.
type MCPConfig struct {
	Name       string
	ToolName   string
	OutputKind tooladapter.OutputKind
}

// MCPAdapter wraps an mcp.Client, calling a named tool and treating its
// result content as the diff (or other) payload — the direct Go analogue
// of "tools may only produce diffs" applied to MCP.
type MCPAdapter struct {
	cfg    MCPConfig
	client *mcp.Client
	health *mcp.HealthMonitor
}

// NewMCPAdapter wraps an already-connected client.
func NewMCPAdapter(cfg MCPConfig, client *mcp.Client, health *mcp.HealthMonitor) *MCPAdapter {
	if cfg.OutputKind == "" {
		cfg.OutputKind = tooladapter.OutputDiff
	}
	return &MCPAdapter{cfg: cfg, client: client, health: health}
}

func (a *MCPAdapter) Name() string { return a.cfg.Name }

func (a *MCPAdapter) HealthCheck(ctx context.Context) (tooladapter.HealthReport, error) {
	if a.health == nil {
		return tooladapter.HealthReport{Status: tooladapter.HealthNotConfigured, ErrorCategory: tooladapter.CategoryConfig}, nil
	}
	switch a.health.Check(ctx) {
	case mcp.HealthHealthy:
		return tooladapter.HealthReport{Status: tooladapter.HealthConnected}, nil
	case mcp.HealthDegraded:
		return tooladapter.HealthReport{Status: tooladapter.HealthConnected, Details: "degraded latency"}, nil
	default:
		return tooladapter.HealthReport{Status: tooladapter.HealthUnreachable, ErrorCategory: tooladapter.CategoryNetwork}, nil
	}
}

func (a *MCPAdapter) Run(ctx context.Context, task tooladapter.Task, allowMock bool) (tooladapter.ToolResult, error) {
	runID := fmt.Sprintf("mcp-%d", time.Now().UnixNano())
	result := tooladapter.ToolResult{
		Tool:       a.Name(),
		ToolRunID:  runID,
		Provider:   tooladapter.ProviderLocal,
		OutputKind: a.cfg.OutputKind,
		Endpoint:   "mcp://" + a.cfg.Name,
	}

	callResult, err := a.client.CallTool(ctx, a.cfg.ToolName, map[string]any{"prompt": task.Prompt, "task_id": task.ID})
	if err != nil {
		if !allowMock {
			result.Status = tooladapter.StatusFailed
			result.ErrorCategory = tooladapter.CategoryNetwork
			result.ErrorMessage = err.Error()
			return result, nil
		}
		result.Status = tooladapter.StatusSuccess
		result.MockUsed = true
		result.MockReason = err.Error()
		result.Diff = mockDiffFor(task)
		return result, nil
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	text := sb.String()

	if callResult.IsError {
		result.Status = tooladapter.StatusFailed
		result.ErrorCategory = tooladapter.CategoryRuntime
		result.ErrorMessage = text
		return result, nil
	}

	result.Status = tooladapter.StatusSuccess
	if a.cfg.OutputKind == tooladapter.OutputDiff {
		result.Diff = text
	} else {
		result.Stdout = text
	}
	return result, nil
}

func (a *MCPAdapter) Supports() tooladapter.ToolCapabilities {
	return tooladapter.ToolCapabilities{
		OutputKinds: []tooladapter.OutputKind{a.cfg.OutputKind},
		Provider:    tooladapter.ProviderLocal,
		MockCapable: true,
	}
}
