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

package tooladapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianstack/orchestrator/pkg/orcherr"
)

// tracer starts one span per tool adapter call. Reads the global
// TracerProvider at call time so pkg/tracing.Setup can install a real
// provider independently of Registry construction order.
func tracer() trace.Tracer {
	return otel.Tracer("github.com/meridianstack/orchestrator/pkg/tooladapter")
}

// AuditFunc records one tool-call event to the audit stream. The Registry
// calls it on every Run, per spec.md §4.4's "writes a tool event to the
// audit stream on every call".
type AuditFunc func(ctx context.Context, taskID, eventType string, payload map[string]any) error

// Registry resolves adapters by name and is the sole enforcement point for
// the mock gate and the diff-only invariant, so no individual adapter can
// bypass either.
type Registry struct {
	logger *slog.Logger
	audit  AuditFunc

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry constructs an empty Registry. audit may be nil, in which case
// tool events are only logged, not persisted.
func NewRegistry(logger *slog.Logger, audit AuditFunc) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, audit: audit, adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own Name(). A later Register with the
// same name replaces the earlier one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name, if any.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Run resolves the named adapter and invokes it, then centrally enforces
// the mock gate and the diff-only invariant on the result before returning
// it. allowMock is the caller's request; it is honored only when the
// process-wide gate mode is also enabled (see gatemode.go) — AND, never OR,
// per spec.md's design note on mock gating.
func (r *Registry) Run(ctx context.Context, toolName string, task Task, allowMock bool) (ToolResult, error) {
	ctx, span := tracer().Start(ctx, "tooladapter.run", trace.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("task_id", task.ID),
	))
	defer span.End()

	result, err := r.run(ctx, toolName, task, allowMock)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (r *Registry) run(ctx context.Context, toolName string, task Task, allowMock bool) (ToolResult, error) {
	adapter, ok := r.Get(toolName)
	if !ok {
		return ToolResult{}, orcherr.New("tooladapter.Run", orcherr.KindConfig, fmt.Sprintf("no adapter registered for %q", toolName), nil)
	}

	effectiveAllowMock := allowMock && GateModeEnabled()
	result, err := adapter.Run(ctx, task, effectiveAllowMock)
	if err != nil {
		r.recordAudit(ctx, task.ID, toolName, result, err)
		return result, err
	}

	result.Endpoint = normalizeEndpoint(result.Endpoint)
	if result.ErrorCategory == "" && result.Status != StatusSuccess {
		result.ErrorCategory = finalizeErrorCategory(adapter, ctx)
	}

	dv := validateDiff(result.Diff, result.OutputKind, task.AllowedPaths)
	result.DiffValidation = &dv
	if result.OutputKind == OutputDiff {
		result.LineCount = countLines(result.Diff)
	}
	result.WroteFiles = false
	result.Committed = false

	r.recordAudit(ctx, task.ID, toolName, result, nil)
	return result, nil
}

func (r *Registry) recordAudit(ctx context.Context, taskID, toolName string, result ToolResult, runErr error) {
	payload := map[string]any{
		"tool":           toolName,
		"status":         result.Status,
		"tool_run_id":    result.ToolRunID,
		"error_category": result.ErrorCategory,
		"endpoint":       result.Endpoint,
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	if r.audit != nil {
		if err := r.audit(ctx, taskID, "tool_call", payload); err != nil {
			r.logger.Warn("tooladapter: failed to record audit event", "tool", toolName, "error", err)
		}
	}
	r.logger.Info("tooladapter: tool call", "tool", toolName, "status", result.Status, "error_category", result.ErrorCategory)
}

// normalizeEndpoint reduces an endpoint to scheme://host[:port], dropping
// any path or query, per spec.md §4.4's evidence normalization rule.
func normalizeEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return endpoint
	}
	return u.Scheme + "://" + u.Host
}

// finalizeErrorCategory derives an error_category from the adapter's
// current health status when the adapter didn't set one explicitly.
func finalizeErrorCategory(adapter Adapter, ctx context.Context) ErrorCategory {
	report, err := adapter.HealthCheck(ctx)
	if err != nil || report.ErrorCategory == "" {
		return CategoryRuntime
	}
	return report.ErrorCategory
}
