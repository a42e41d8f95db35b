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

package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthStatus is the Health Monitor's reported state for a server.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthMonitor wraps a Client with a consecutive-failure counter and a
// latency threshold, per spec.md §4.5.
type HealthMonitor struct {
	client            *Client
	failureThreshold  int
	degradedThreshold time.Duration
	logger            *slog.Logger

	mu                sync.Mutex
	consecutiveFails  int
	status            HealthStatus
}

// NewHealthMonitor wraps client with the given thresholds.
func NewHealthMonitor(client *Client, failureThreshold int, degradedThreshold time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &HealthMonitor{
		client:            client,
		failureThreshold:  failureThreshold,
		degradedThreshold: degradedThreshold,
		logger:            logger,
		status:            HealthHealthy,
	}
}

// Status returns the current cached status without performing a check.
func (h *HealthMonitor) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Check performs one health probe: it calls ListTools and measures
// latency. A failure increments the consecutive-failure counter
// (UNHEALTHY once it reaches failureThreshold, else DEGRADED); a success
// resets the counter, and DEGRADED is reported anyway if latency exceeds
// the degraded threshold. Status transitions are logged exactly once, on
// change.
func (h *HealthMonitor) Check(ctx context.Context) HealthStatus {
	start := time.Now()
	_, err := h.client.ListTools(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.status
	switch {
	case err != nil:
		h.consecutiveFails++
		if h.consecutiveFails >= h.failureThreshold {
			h.status = HealthUnhealthy
		} else {
			h.status = HealthDegraded
		}
	case h.degradedThreshold > 0 && latency > h.degradedThreshold:
		h.consecutiveFails = 0
		h.status = HealthDegraded
	default:
		h.consecutiveFails = 0
		h.status = HealthHealthy
	}

	if h.status != prev {
		h.logger.Info("mcp server health transition", "server", h.client.cfg.ID, "from", prev, "to", h.status, "latency_ms", latency.Milliseconds())
	}
	return h.status
}

// Run polls Check at interval until ctx is canceled.
func (h *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
