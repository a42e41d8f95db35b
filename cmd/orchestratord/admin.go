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

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meridianstack/orchestrator/pkg/auth"
)

// newAdminServer builds the ambient ops HTTP surface: unauthenticated
// /healthz and /metrics, and JWT-gated task and MCP inspection endpoints
// under /v1. Grounded on cmd/hector/main.go's chi-based admin router.
func newAdminServer(addr string, deps *dependencies) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/metrics", deps.metrics.Handler())

	r.Group(func(r chi.Router) {
		if deps.authV != nil {
			r.Use(auth.Middleware(deps.authV))
		}

		r.Get("/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			row, err := deps.store.GetTask(r.Context(), id)
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, row)
		})

		r.Get("/v1/tasks/{id}/audit", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			var entries []*struct {
				TaskID    string         `json:"task_id"`
				TS        time.Time      `json:"ts"`
				Level     string         `json:"level"`
				EventType string         `json:"event_type"`
				Payload   map[string]any `json:"payload"`
			}
			for e, err := range deps.store.ListAudit(r.Context(), id) {
				if err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
					return
				}
				entries = append(entries, &struct {
					TaskID    string         `json:"task_id"`
					TS        time.Time      `json:"ts"`
					Level     string         `json:"level"`
					EventType string         `json:"event_type"`
					Payload   map[string]any `json:"payload"`
				}{e.TaskID, e.TS, string(e.Level), e.EventType, e.Payload})
			}
			writeJSON(w, http.StatusOK, entries)
		})

		r.Group(func(r chi.Router) {
			if deps.authV != nil {
				r.Use(auth.RequireRole(deps.authV, "admin", "operator"))
			}

			r.Get("/v1/backlog", func(w http.ResponseWriter, r *http.Request) {
				backlog, err := deps.store.Backlog(r.Context())
				if err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
					return
				}
				deps.metrics.ObserveBacklog(backlog)
				writeJSON(w, http.StatusOK, backlog)
			})

			r.Get("/v1/mcp/health", func(w http.ResponseWriter, r *http.Request) {
				statuses := make(map[string]string, len(deps.mcpHealth))
				for id, h := range deps.mcpHealth {
					status := h.Status()
					statuses[id] = string(status)
					deps.metrics.ObserveMCPHealth(id, status)
				}
				writeJSON(w, http.StatusOK, statuses)
			})
		})
	})

	return &http.Server{Addr: addr, Handler: r}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
