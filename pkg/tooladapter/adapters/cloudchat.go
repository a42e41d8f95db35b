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

// Package adapters ships the concrete tool adapters: CloudChatAdapter
// (google.golang.org/genai), CLIAdapter (os/exec), and MCPAdapter
// (pkg/mcp.Client).
package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"google.golang.org/genai"

	"github.com/meridianstack/orchestrator/pkg/tooladapter"
)

// CloudChatConfig configures a CloudChatAdapter.
type CloudChatConfig struct {
	Name       string
	APIKey     string
	Model      string
	OutputKind tooladapter.OutputKind
	Endpoint   string
	// MaxPromptTokens bounds the prompt's size via a local cl100k_base
	// pre-flight estimate, so an oversized prompt fails fast as a
	// model-category error instead of burning a round trip to the model only to be
	// rejected there. Zero disables the check.
	MaxPromptTokens int
}

// CloudChatAdapter calls a cloud LLM via google.golang.org/genai for
// diff/plan/analysis-shaped output kinds, grounded on the request/response
// construction idiom in pkg/model/gemini/gemini.go.
type CloudChatAdapter struct {
	cfg    CloudChatConfig
	client *genai.Client
}

// NewCloudChatAdapter constructs a CloudChatAdapter. It does not dial out;
// genai.NewClient only prepares the HTTP transport.
func NewCloudChatAdapter(ctx context.Context, cfg CloudChatConfig) (*CloudChatAdapter, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.OutputKind == "" {
		cfg.OutputKind = tooladapter.OutputDiff
	}
	if cfg.APIKey == "" {
		return &CloudChatAdapter{cfg: cfg}, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("adapters: new genai client: %w", err)
	}
	return &CloudChatAdapter{cfg: cfg, client: client}, nil
}

func (a *CloudChatAdapter) Name() string { return a.cfg.Name }

func (a *CloudChatAdapter) HealthCheck(ctx context.Context) (tooladapter.HealthReport, error) {
	if a.cfg.APIKey == "" {
		return tooladapter.HealthReport{Status: tooladapter.HealthNotConfigured, ErrorCategory: tooladapter.CategoryConfig, Details: "no API key configured"}, nil
	}
	if a.client == nil {
		return tooladapter.HealthReport{Status: tooladapter.HealthInvalidToken, ErrorCategory: tooladapter.CategoryAuth, Details: "client construction failed"}, nil
	}
	return tooladapter.HealthReport{Status: tooladapter.HealthConnected}, nil
}

func (a *CloudChatAdapter) Run(ctx context.Context, task tooladapter.Task, allowMock bool) (tooladapter.ToolResult, error) {
	runID := fmt.Sprintf("cloudchat-%d", time.Now().UnixNano())
	base := tooladapter.ToolResult{
		Tool:       a.Name(),
		ToolRunID:  runID,
		ModelID:    a.cfg.Model,
		Provider:   tooladapter.ProviderCloud,
		OutputKind: a.cfg.OutputKind,
		Endpoint:   a.cfg.Endpoint,
	}

	if a.cfg.MaxPromptTokens > 0 {
		if n, err := promptTokenCount(task.Prompt); err == nil && n > a.cfg.MaxPromptTokens {
			base.Status = tooladapter.StatusFailed
			base.ErrorCategory = tooladapter.CategoryModel
			base.ErrorMessage = fmt.Sprintf("prompt estimated at %d tokens, exceeds limit %d", n, a.cfg.MaxPromptTokens)
			return base, nil
		}
	}

	if a.client == nil {
		if !allowMock {
			base.Status = tooladapter.StatusFailed
			base.ErrorCategory = tooladapter.CategoryConfig
			base.ErrorMessage = "cloud chat adapter not configured and mock fallback not permitted"
			return base, nil
		}
		base.Status = tooladapter.StatusSuccess
		base.MockUsed = true
		base.MockReason = "no API key configured"
		base.Diff = mockDiffFor(task)
		return base, nil
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: task.Prompt}},
	}}
	genResp, err := a.client.Models.GenerateContent(ctx, a.cfg.Model, contents, nil)
	if err != nil {
		base.Status = tooladapter.StatusFailed
		base.ErrorCategory = tooladapter.CategoryNetwork
		base.ErrorMessage = err.Error()
		return base, nil
	}

	text := extractText(genResp)
	base.Status = tooladapter.StatusSuccess
	if a.cfg.OutputKind == tooladapter.OutputDiff {
		base.Diff = text
	} else {
		base.Stdout = text
	}
	return base, nil
}

func (a *CloudChatAdapter) Supports() tooladapter.ToolCapabilities {
	return tooladapter.ToolCapabilities{
		OutputKinds: []tooladapter.OutputKind{tooladapter.OutputDiff, tooladapter.OutputPlan, tooladapter.OutputAnalysis},
		Provider:    tooladapter.ProviderCloud,
		MockCapable: true,
	}
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// promptTokenCount estimates token count using the cl100k_base encoding,
// the same family GPT/Gemini-class tokenizers approximate well enough for a
// pre-flight size check.
func promptTokenCount(prompt string) (int, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(prompt, nil, nil)), nil
}

func mockDiffFor(task tooladapter.Task) string {
	path := "MOCK"
	if len(task.AllowedPaths) > 0 {
		path = task.AllowedPaths[0] + "/MOCK"
	}
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ -0,0 +1,1 @@\n+mock output for %s\n", path, path, task.ID)
}
