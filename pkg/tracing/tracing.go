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

// Package tracing wires the orchestrator's ambient OpenTelemetry tracer
// and meter providers: one span per runner iteration, one span per MCP
// request, one span per tool adapter call. There is no external tracing
// backend in this deployment, so finished spans are logged through the
// same slog logger every other subsystem uses rather than shipped to a
// collector; the otel metric bridge, by contrast, registers against the
// orchestrator's existing Prometheus registerer, so both the tracing and
// metrics halves of the otel SDK are genuinely exercised instead of
// standing up a second, unused metrics pipeline.
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/prometheus/client_golang/prometheus"
)

// logSpanExporter writes finished spans as structured debug log lines.
type logSpanExporter struct {
	logger *slog.Logger
}

func (e *logSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.logger.Debug("trace span",
			"name", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
		)
	}
	return nil
}

func (e *logSpanExporter) Shutdown(ctx context.Context) error { return nil }

// Provider bundles the tracer every instrumented package starts spans
// from. The zero value is unusable; construct with Setup.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	Tracer trace.Tracer
}

// Setup installs a TracerProvider (spans routed through logger) and a
// MeterProvider (instruments exported via the Prometheus bridge,
// registered against reg) as the otel globals, and returns a Provider
// exposing the tracer instrumented packages should use. reg is typically
// the same *prometheus.Registry backing pkg/metrics.Registry.
func Setup(serviceName string, reg prometheus.Registerer, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&logSpanExporter{logger: logger}),
	)
	otel.SetTracerProvider(tp)

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	return &Provider{
		tp:     tp,
		mp:     mp,
		Tracer: tp.Tracer(serviceName),
	}, nil
}

// Shutdown flushes and releases the tracer and meter providers. Safe to
// call on a nil Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
