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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridianstack/orchestrator/pkg/auth"
	"github.com/meridianstack/orchestrator/pkg/checkpoint"
	"github.com/meridianstack/orchestrator/pkg/config"
	"github.com/meridianstack/orchestrator/pkg/decision"
	"github.com/meridianstack/orchestrator/pkg/eventbus"
	"github.com/meridianstack/orchestrator/pkg/gate"
	"github.com/meridianstack/orchestrator/pkg/mcp"
	"github.com/meridianstack/orchestrator/pkg/metrics"
	"github.com/meridianstack/orchestrator/pkg/risk"
	"github.com/meridianstack/orchestrator/pkg/runner"
	"github.com/meridianstack/orchestrator/pkg/store"
	"github.com/meridianstack/orchestrator/pkg/supervisor"
	"github.com/meridianstack/orchestrator/pkg/supervisor/policy"
	"github.com/meridianstack/orchestrator/pkg/tooladapter"
	"github.com/meridianstack/orchestrator/pkg/tooladapter/adapters"
	"github.com/meridianstack/orchestrator/pkg/tracing"
)

// ServeCmd runs the Supervisor, the Task Runner worker pool, and the admin
// HTTP surface until interrupted.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, _, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	deps, err := buildDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.store.Close()
	for _, mc := range deps.mcpClients {
		defer mc.Disconnect()
	}
	defer deps.tracing.Shutdown(context.Background())

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return deps.supervisor.Run(gctx)
	})

	group.Go(func() error {
		return deps.pool.Run(gctx)
	})

	adminSrv := newAdminServer(cfg.Admin.Addr, deps)
	group.Go(func() error {
		slog.Info("admin HTTP surface listening", "addr", cfg.Admin.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return adminSrv.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.Supervisor.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n, err := deps.supervisor.Cleanup(gctx); err != nil {
					slog.Error("inbox cleanup failed", "error", err)
				} else if n > 0 {
					slog.Info("purged completed inbox rows", "count", n)
				}
			}
		}
	})

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// dependencies wires every component a running Orchestrator process needs,
// grounded on cmd/hector/main.go's single-function wiring of runtime +
// session service + task store + HTTP server from one *config.Config.
type dependencies struct {
	store       *store.Store
	bus         *eventbus.Bus
	tools       *tooladapter.Registry
	checkpoints *checkpoint.Manager
	leases      *checkpoint.LeaseManager
	gates       *gate.DoneGateRunner
	decisions   *decision.Recorder
	riskScorer  *risk.Scorer
	supervisor  *supervisor.Supervisor
	pool        *runner.Pool
	authV       *auth.JWTValidator
	metrics     *metrics.Registry
	tracing     *tracing.Provider
	mcpClients  []*mcp.Client
	mcpHealth   map[string]*mcp.HealthMonitor
}

func buildDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	logger := slog.Default()

	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.NewBus(logger)
	tooladapter.SetGateMode(cfg.GateMode || os.Getenv("ORCHESTRATOR_GATE_MODE") == "true")

	auditFn := tooladapter.AuditFunc(func(ctx context.Context, taskID, eventType string, payload map[string]any) error {
		return st.AppendAudit(ctx, store.AuditEntry{
			TaskID: taskID, EventType: eventType, Payload: payload, Level: store.AuditInfo,
		})
	})
	tools := tooladapter.NewRegistry(logger, auditFn)

	if cfg.ToolAdapters.Cloud.Provider != "" {
		cloudAdapter, err := adapters.NewCloudChatAdapter(ctx, adapters.CloudChatConfig{
			Name:       cfg.ToolAdapters.Cloud.Provider,
			Model:      cfg.ToolAdapters.Cloud.Model,
			APIKey:     cfg.ToolAdapters.Cloud.APIKey,
			OutputKind: tooladapter.OutputPlan,
		})
		if err != nil {
			return nil, fmt.Errorf("cloud tool adapter: %w", err)
		}
		tools.Register(cloudAdapter)
	}
	if len(cfg.ToolAdapters.CLI.Command) > 0 {
		tools.Register(adapters.NewCLIAdapter(adapters.CLIConfig{
			Name:       cfg.ToolAdapters.CLI.Command[0],
			Command:    cfg.ToolAdapters.CLI.Command,
			OutputKind: tooladapter.OutputDiff,
		}))
	}

	var mcpClients []*mcp.Client
	mcpHealth := make(map[string]*mcp.HealthMonitor)
	for _, sc := range cfg.MCPServers {
		if !sc.Enabled {
			continue
		}
		client := mcp.NewClient(mcp.ServerConfig{
			ID: sc.ID, Command: sc.Command, Env: sc.Env, TimeoutMS: sc.TimeoutMS,
		}, logger)
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect mcp server %s: %w", sc.ID, err)
		}
		mcpClients = append(mcpClients, client)
		health := mcp.NewHealthMonitor(client, 3, 5*time.Second, logger)
		go health.Run(ctx, 10*time.Second)
		mcpHealth[sc.ID] = health

		allowed := sc.AllowTools
		if len(allowed) == 0 {
			discovered, err := client.ListTools(ctx)
			if err != nil {
				return nil, fmt.Errorf("list tools for mcp server %s: %w", sc.ID, err)
			}
			for _, d := range discovered {
				allowed = append(allowed, d.Name)
			}
		}
		for _, toolName := range allowed {
			tools.Register(adapters.NewMCPAdapter(adapters.MCPConfig{
				Name:     sc.ID + "." + toolName,
				ToolName: toolName,
			}, client, health))
		}
	}

	metricsRegistry := metrics.New()
	tracingProvider, err := tracing.Setup("orchestrator", metricsRegistry.Registerer(), logger)
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	checkpoints := checkpoint.NewManager(st, logger)
	leases := checkpoint.NewLeaseManager(st, 2*time.Minute)
	if len(cfg.Runner.DefaultGates) > 0 {
		gate.DefaultGates = cfg.Runner.DefaultGates
	}
	gates := gate.NewDoneGateRunner(doneGateResolver(cfg.Runner.DefaultGates), cfg.Runner.ArtifactDir, logger)

	decisions := decision.NewRecorder(st)
	riskScorer := risk.NewScorer(risk.NewTimeline(st))

	var authV *auth.JWTValidator
	if cfg.Auth.IsEnabled() {
		authV, err = auth.NewValidatorFromConfig(&cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth validator: %w", err)
		}
	}

	router := supervisor.NewRouter()
	router.RegisterExact("task.created", policy.OnTaskCreated{})
	router.RegisterExact("task.step_completed", policy.OnStepCompleted{})
	router.RegisterExact("task.failed", policy.OnTaskFailed{})
	router.RegisterExact("mode.violation", policy.OnModeViolation{})

	sup, err := supervisor.New(supervisor.Config{
		Store:                st,
		Bus:                  bus,
		Router:               router,
		Decisions:            decisions,
		RiskScorer:           riskScorer,
		Redline:              []gate.RedlineValidator{gate.RoleValidator{}, gate.CommandValidator{}, gate.RuleValidator{}},
		Logger:               logger,
		PollInterval:         cfg.Supervisor.PollInterval,
		InboxRetention:       cfg.Supervisor.InboxRetention,
		BacklogWarnThreshold: time.Duration(cfg.Supervisor.BacklogSLOSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	r, err := runner.New(runner.Config{
		Store: st, Checkpoints: checkpoints, Leases: leases, Tools: tools,
		Gates: gates, Bus: bus, Logger: logger,
		MaxIterations:      cfg.Runner.MaxIterations,
		PollInterval:       cfg.Runner.IterationSleep,
		DefaultHardTimeout: cfg.Runner.HardTimeout,
		ArtifactDir:        cfg.Runner.ArtifactDir,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	pool, err := runner.NewPool(runner.PoolConfig{
		Runner:      r,
		Store:       st,
		Logger:      logger,
		Concurrency: int64(cfg.Runner.MaxConcurrentTasks),
	})
	if err != nil {
		return nil, fmt.Errorf("runner pool: %w", err)
	}

	return &dependencies{
		store:       st,
		bus:         bus,
		tools:       tools,
		checkpoints: checkpoints,
		leases:      leases,
		gates:       gates,
		decisions:   decisions,
		riskScorer:  riskScorer,
		supervisor:  sup,
		pool:        pool,
		authV:       authV,
		metrics:     metricsRegistry,
		tracing:     tracingProvider,
		mcpClients:  mcpClients,
		mcpHealth:   mcpHealth,
	}, nil
}

// doneGateResolver maps a gate name to the shell command that runs it.
// Config only names default gates; the actual command lives alongside the
// repository the gate inspects, so this resolver is permissive: it always
// treats the gate name itself as the command, matching spec.md's "gate
// name is the command" simple case. defaultGates is not consulted and
// there is no per-gate command override.
func doneGateResolver(defaultGates []string) gate.CommandResolver {
	return func(gateName string) ([]string, error) {
		return []string{gateName}, nil
	}
}

