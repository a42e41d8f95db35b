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

// Package tooladapter defines the uniform contract every tool adapter
// implements, plus the Registry that enforces the mock gate and the
// diff-only invariant centrally so no individual adapter can bypass them.
package tooladapter

import "context"

// HealthStatus is an adapter's reported connectivity state.
type HealthStatus string

const (
	HealthConnected     HealthStatus = "connected"
	HealthNotConfigured HealthStatus = "not_configured"
	HealthInvalidToken  HealthStatus = "invalid_token"
	HealthUnreachable   HealthStatus = "unreachable"
	HealthModelMissing  HealthStatus = "model_missing"
	HealthSchemaMismatch HealthStatus = "schema_mismatch"
)

// ErrorCategory classifies why a tool call or health check failed. Mandatory
// on every failure, per spec.md §4.4's H2 assertion.
type ErrorCategory string

const (
	CategoryConfig  ErrorCategory = "config"
	CategoryAuth    ErrorCategory = "auth"
	CategoryNetwork ErrorCategory = "network"
	CategoryModel   ErrorCategory = "model"
	CategorySchema  ErrorCategory = "schema"
	CategoryRuntime ErrorCategory = "runtime"
)

// Status is the outcome of one Run call.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
	StatusTimeout        Status = "timeout"
)

// Provider distinguishes cloud-hosted adapters from local ones.
type Provider string

const (
	ProviderCloud Provider = "cloud"
	ProviderLocal Provider = "local"
)

// OutputKind names the shape of an adapter's payload.
type OutputKind string

const (
	OutputDiff        OutputKind = "diff"
	OutputPlan        OutputKind = "plan"
	OutputAnalysis    OutputKind = "analysis"
	OutputExplanation OutputKind = "explanation"
	OutputDiagnosis   OutputKind = "diagnosis"
)

// HealthReport is the result of an adapter's HealthCheck.
type HealthReport struct {
	Status        HealthStatus
	Details       string
	ErrorCategory ErrorCategory
}

// Task is the minimal unit of work handed to an adapter. Prompt carries the
// natural-language instruction; AllowedPaths is the diff allow-list enforced
// by the runtime, not by the adapter.
type Task struct {
	ID           string
	Prompt       string
	AllowedPaths []string
}

// ToolCapabilities declares what an adapter can do, consulted by the
// Registry and by planning to pick a suitable adapter for a work item.
type ToolCapabilities struct {
	OutputKinds []OutputKind
	Provider    Provider
	MockCapable bool
}

// DiffValidation summarises the runtime's diff-only invariant checks.
type DiffValidation struct {
	ParsesAsUnifiedDiff bool                 `json:"parses_as_unified_diff"`
	WithinAllowList     bool                 `json:"within_allow_list"`
	MatchesOutputKind   bool                 `json:"matches_output_kind"`
	ViolatingPaths      []string             `json:"violating_paths,omitempty"`
	Reason              string               `json:"reason,omitempty"`
}

// ToolResult carries the full evidence of one adapter Run, matching
// spec.md §4.4's field list exactly. WroteFiles and Committed are always
// false: they are declarations that the runtime enforces, not knobs an
// adapter can flip.
type ToolResult struct {
	Tool           string          `json:"tool"`
	Status         Status          `json:"status"`
	Diff           string          `json:"diff,omitempty"`
	FilesTouched   []string        `json:"files_touched"`
	LineCount      int             `json:"line_count"`
	ToolRunID      string          `json:"tool_run_id"`
	ModelID        string          `json:"model_id,omitempty"`
	Provider       Provider        `json:"provider"`
	OutputKind     OutputKind      `json:"output_kind"`
	ErrorCategory  ErrorCategory   `json:"error_category,omitempty"`
	Endpoint       string          `json:"endpoint"`
	Stdout         string          `json:"stdout,omitempty"`
	Stderr         string          `json:"stderr,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	DiffValidation *DiffValidation `json:"diff_validation,omitempty"`
	WroteFiles     bool            `json:"wrote_files"`
	Committed      bool            `json:"committed"`
	MockUsed       bool            `json:"_mock_used,omitempty"`
	MockReason     string          `json:"_mock_reason,omitempty"`
}

// Adapter is the uniform contract every tool adapter implements.
type Adapter interface {
	Name() string
	HealthCheck(ctx context.Context) (HealthReport, error)
	Run(ctx context.Context, task Task, allowMock bool) (ToolResult, error)
	Supports() ToolCapabilities
}
