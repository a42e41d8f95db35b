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

// Package metrics exposes the orchestrator's Prometheus gauges and
// counters: the Supervisor's inbox backlog, per-MCP-server health, and
// task lifecycle counts, grounded on the teacher's
// pkg/observability.Metrics registry-per-process pattern and narrowed to
// this system's own domain (no agent/LLM/RAG/session metrics apply here).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianstack/orchestrator/pkg/mcp"
	"github.com/meridianstack/orchestrator/pkg/store"
)

// Registry holds every metric the orchestrator exports. The zero value is
// not usable; use New.
type Registry struct {
	reg *prometheus.Registry

	inboxPending     prometheus.Gauge
	inboxProcessing  prometheus.Gauge
	inboxFailed      prometheus.Gauge
	inboxOldestAgeS  prometheus.Gauge

	mcpServerHealth *prometheus.GaugeVec

	tasksByStatus    *prometheus.GaugeVec
	decisionsTotal   *prometheus.CounterVec
}

// New constructs a Registry with every orchestrator metric registered
// against a fresh prometheus.Registry (not the global default registerer,
// so tests and multiple in-process instances never collide).
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		inboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "supervisor", Name: "inbox_pending",
			Help: "Number of supervisor inbox rows currently pending.",
		}),
		inboxProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "supervisor", Name: "inbox_processing",
			Help: "Number of supervisor inbox rows currently being processed.",
		}),
		inboxFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "supervisor", Name: "inbox_failed",
			Help: "Number of supervisor inbox rows that failed policy processing.",
		}),
		inboxOldestAgeS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "supervisor", Name: "inbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending supervisor inbox row.",
		}),
		mcpServerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "mcp", Name: "server_health",
			Help: "MCP server health: 2=healthy, 1=degraded, 0=unhealthy.",
		}, []string{"server_id"}),
		tasksByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "task", Name: "count_by_status",
			Help: "Number of tasks currently in each status.",
		}, []string{"status"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Subsystem: "decision", Name: "recorded_total",
			Help: "Total decisions recorded by the ledger, labeled by final verdict.",
		}, []string{"verdict"}),
	}
	reg.MustRegister(
		r.inboxPending, r.inboxProcessing, r.inboxFailed, r.inboxOldestAgeS,
		r.mcpServerHealth, r.tasksByStatus, r.decisionsTotal,
	)
	return r
}

// Handler returns the promhttp handler serving this Registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Registerer exposes the underlying Prometheus registerer so other
// exporters — namely pkg/tracing's otel metric bridge — publish through
// this same /metrics surface instead of standing up a second one.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// ObserveBacklog updates the inbox gauges from a freshly computed backlog
// snapshot. Intended to be called on the same cadence as the Supervisor's
// own backlog SLO check.
func (r *Registry) ObserveBacklog(b store.InboxBacklog) {
	r.inboxPending.Set(float64(b.Pending))
	r.inboxProcessing.Set(float64(b.Processing))
	r.inboxFailed.Set(float64(b.Failed))
	r.inboxOldestAgeS.Set(b.OldestPendingAgeSecs)
}

// ObserveMCPHealth records serverID's current health status.
func (r *Registry) ObserveMCPHealth(serverID string, status mcp.HealthStatus) {
	var v float64
	switch status {
	case mcp.HealthHealthy:
		v = 2
	case mcp.HealthDegraded:
		v = 1
	case mcp.HealthUnhealthy:
		v = 0
	}
	r.mcpServerHealth.WithLabelValues(serverID).Set(v)
}

// ObserveTaskCount sets the gauge for one status bucket, e.g. from a
// COUNT(*) ... GROUP BY status query run on the same cadence as the
// Supervisor's reconciliation poll.
func (r *Registry) ObserveTaskCount(status string, count int) {
	r.tasksByStatus.WithLabelValues(status).Set(float64(count))
}

// ObserveDecision increments the decision counter for verdict.
func (r *Registry) ObserveDecision(verdict string) {
	r.decisionsTotal.WithLabelValues(verdict).Inc()
}
