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

// Package config provides configuration loading and hot-reload for the
// Orchestrator.
//
// The Orchestrator is config-first: the Store location, the Supervisor's
// polling cadence, the set of MCP servers, and tool adapter credentials are
// all declared in one YAML document and the process builds itself from it.
//
// Example config:
//
//	store:
//	  path: ./data/orchestrator.db
//
//	supervisor:
//	  poll_interval: 5s
//	  backlog_slo_seconds: 60
//
//	mcp_servers:
//	  - id: fs
//	    command: ["mcp-server-filesystem", "--root", "/repo"]
//	    timeout_ms: 30000
//
//	tool_adapters:
//	  cloud:
//	    provider: genai
//	    api_key: ${GENAI_API_KEY}
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// Store configures the embedded database.
	Store StoreConfig `yaml:"store,omitempty"`

	// EventBus configures the in-process event bus.
	EventBus EventBusConfig `yaml:"event_bus,omitempty"`

	// Supervisor configures the inbox consumer and policy router.
	Supervisor SupervisorConfig `yaml:"supervisor,omitempty"`

	// Runner configures the task runner.
	Runner RunnerConfig `yaml:"runner,omitempty"`

	// MCPServers lists the MCP servers this process may connect to.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty"`

	// ToolAdapters configures the concrete tool adapter implementations.
	ToolAdapters ToolAdapterConfig `yaml:"tool_adapters,omitempty"`

	// Logger configures logging behavior.
	Logger *LoggerConfig `yaml:"logger,omitempty"`

	// Auth configures administrative token validation.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// Admin configures the ambient ops HTTP surface (/healthz, /metrics).
	Admin AdminConfig `yaml:"admin,omitempty"`

	// GateMode enables the mock fallback for tool adapters process-wide.
	// ORCHESTRATOR_GATE_MODE=true in the environment enables it as well.
	// Design note: this must be combined with the caller's explicit
	// allowMock argument, never consulted alone.
	GateMode bool `yaml:"gate_mode,omitempty"`
}

// StoreConfig configures the embedded SQLite Store.
type StoreConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string `yaml:"path,omitempty"`

	// BusyTimeout is the configured SQLITE_BUSY wait. store.Open does not
	// read it: its connections always use a fixed 5s busy timeout.
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty"`
}

// EventBusConfig configures the in-process event bus.
type EventBusConfig struct {
	// AsyncBufferSize is the configured bound on in-flight async
	// dispatches. The event bus does not read it: every async subscriber
	// is dispatched on its own goroutine without a bound.
	AsyncBufferSize int `yaml:"async_buffer_size,omitempty"`
}

// SupervisorConfig configures the Supervisor.
type SupervisorConfig struct {
	// PollInterval is the slow-path polling cadence.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// BacklogSLOSeconds is the maximum tolerated oldest_pending_age_seconds.
	BacklogSLOSeconds int `yaml:"backlog_slo_seconds,omitempty"`

	// InboxRetention is how long completed inbox rows are kept before
	// periodic cleanup purges them.
	InboxRetention time.Duration `yaml:"inbox_retention,omitempty"`

	// CleanupInterval is how often the purge job runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
}

// RunnerConfig configures the Task Runner.
type RunnerConfig struct {
	// MaxIterations caps the number of state-machine iterations a single
	// task runner will perform before terminating with exit_reason
	// max_iterations. Defaults to 100 (design note §9): a configurable
	// safety net, not a business rule.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// IterationSleep is the small delay between iterations that avoids
	// busy-looping.
	IterationSleep time.Duration `yaml:"iteration_sleep,omitempty"`

	// MaxConcurrentTasks bounds the task-runner worker pool.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks,omitempty"`

	// DefaultGates are the DONE gate names run when a task doesn't
	// declare its own.
	DefaultGates []string `yaml:"default_gates,omitempty"`

	// WarnTimeout and HardTimeout are the configured per-task timeout
	// thresholds. HardTimeout seeds a task's timeout state when the task
	// has none; WarnTimeout is not read by the runner.
	WarnTimeout time.Duration `yaml:"warn_timeout,omitempty"`
	HardTimeout time.Duration `yaml:"hard_timeout,omitempty"`

	// ArtifactDir is the root directory persisted artifacts are written
	// under, one subdirectory per task_id: open_plan.json,
	// work_item_<ITEM_ID>.json, work_items_summary.json, and
	// gate_results.json.
	ArtifactDir string `yaml:"artifact_dir,omitempty"`
}

// MCPServerConfig is the exact schema from the external interfaces spec.
type MCPServerConfig struct {
	ID                 string            `yaml:"id"`
	Enabled            bool              `yaml:"enabled"`
	Transport          string            `yaml:"transport,omitempty"`
	Command            []string          `yaml:"command"`
	AllowTools         []string          `yaml:"allow_tools,omitempty"`
	DenySideEffectTags []string          `yaml:"deny_side_effect_tags,omitempty"`
	Env                map[string]string `yaml:"env,omitempty"`
	TimeoutMS          int               `yaml:"timeout_ms,omitempty"`
	PackageID          string            `yaml:"package_id,omitempty"`
}

// ToolAdapterConfig configures the concrete adapters wired into the
// registry.
type ToolAdapterConfig struct {
	Cloud CloudAdapterConfig `yaml:"cloud,omitempty"`
	CLI   CLIAdapterConfig   `yaml:"cli,omitempty"`
}

// CloudAdapterConfig configures the cloud LLM-backed adapter.
type CloudAdapterConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// CLIAdapterConfig configures a local CLI tool adapter.
type CLIAdapterConfig struct {
	Command []string          `yaml:"command,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// LoggerConfig configures the ambient logger.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// AuthConfig configures administrative token header validation.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled,omitempty"`
	JWKSURL  string        `yaml:"jwks_url,omitempty"`
	Issuer   string        `yaml:"issuer,omitempty"`
	Audience string        `yaml:"audience,omitempty"`
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`
}

// IsEnabled reports whether administrative token validation is turned on.
func (c *AuthConfig) IsEnabled() bool { return c != nil && c.Enabled }

// SetDefaults applies default values to the auth config.
func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
}

// Validate checks the auth config for structural errors SetDefaults cannot
// fix. Only called when Enabled is true.
func (c *AuthConfig) Validate() error {
	if c.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required when auth is enabled")
	}
	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required when auth is enabled")
	}
	if c.Audience == "" {
		return fmt.Errorf("auth.audience is required when auth is enabled")
	}
	return nil
}

// AdminConfig configures the ambient ops HTTP surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// SetDefaults applies default values to the config.
func (c *Config) SetDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "./data/orchestrator.db"
	}
	if c.Store.BusyTimeout == 0 {
		c.Store.BusyTimeout = 5 * time.Second
	}
	if c.Supervisor.PollInterval == 0 {
		c.Supervisor.PollInterval = 5 * time.Second
	}
	if c.Supervisor.BacklogSLOSeconds == 0 {
		c.Supervisor.BacklogSLOSeconds = 60
	}
	if c.Supervisor.InboxRetention == 0 {
		c.Supervisor.InboxRetention = 7 * 24 * time.Hour
	}
	if c.Supervisor.CleanupInterval == 0 {
		c.Supervisor.CleanupInterval = time.Hour
	}
	if c.Runner.MaxIterations == 0 {
		c.Runner.MaxIterations = 100
	}
	if c.Runner.IterationSleep == 0 {
		c.Runner.IterationSleep = 200 * time.Millisecond
	}
	if c.Runner.MaxConcurrentTasks == 0 {
		c.Runner.MaxConcurrentTasks = 8
	}
	if len(c.Runner.DefaultGates) == 0 {
		c.Runner.DefaultGates = []string{"doctor"}
	}
	if c.Runner.WarnTimeout == 0 {
		c.Runner.WarnTimeout = 10 * time.Minute
	}
	if c.Runner.HardTimeout == 0 {
		c.Runner.HardTimeout = 30 * time.Minute
	}
	if c.Runner.ArtifactDir == "" {
		c.Runner.ArtifactDir = "artifacts"
	}
	for i := range c.MCPServers {
		s := &c.MCPServers[i]
		if s.Transport == "" {
			s.Transport = "stdio"
		}
		if s.TimeoutMS == 0 {
			s.TimeoutMS = 30000
		}
		if s.Env == nil {
			s.Env = map[string]string{}
		}
	}
	if c.Logger == nil {
		c.Logger = &LoggerConfig{Level: "info", Format: "simple"}
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8090"
	}
}

// Validate checks the config for structural errors SetDefaults cannot fix.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	seen := make(map[string]bool, len(c.MCPServers))
	for _, s := range c.MCPServers {
		if s.ID == "" {
			return fmt.Errorf("mcp_servers: id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("mcp_servers: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Transport {
		case "stdio", "tcp", "ssh", "https", "http":
		default:
			return fmt.Errorf("mcp_servers[%s]: unknown transport %q", s.ID, s.Transport)
		}
		if s.Transport == "stdio" && len(s.Command) == 0 {
			return fmt.Errorf("mcp_servers[%s]: command is required for stdio transport", s.ID)
		}
		if s.TimeoutMS <= 0 {
			return fmt.Errorf("mcp_servers[%s]: timeout_ms must be > 0", s.ID)
		}
	}
	if c.Runner.MaxIterations <= 0 {
		return fmt.Errorf("runner.max_iterations must be > 0")
	}
	if c.Auth.IsEnabled() {
		if err := c.Auth.Validate(); err != nil {
			return err
		}
	}
	return nil
}
