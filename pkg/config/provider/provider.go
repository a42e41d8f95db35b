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

// Package provider defines the config source abstraction.
//
// The Store is the only shared mutable state the Orchestrator depends on;
// configuration stays file-based so a second coordination service is never
// required just to boot the process.
package provider

import (
	"context"
	"fmt"
	"log/slog"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile Type = "file"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging/debugging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch starts watching for changes and signals via the returned channel.
	// The channel receives a value when config changes.
	// Cancel the context to stop watching.
	// Returns nil channel if watching is not supported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ProviderConfig configures provider creation.
type ProviderConfig struct {
	// Type specifies the provider type. Only "file" is currently supported.
	Type Type

	// Path is the config file path.
	Path string

	// Logger receives provider diagnostics (watch start/stop, reload
	// signals, watcher errors). Defaults to slog.Default() so callers
	// that construct a Provider before the ambient logger is configured
	// still get output, matching the constructor-injected-logger
	// convention used by store.Open and mcp.NewClient elsewhere in this
	// module.
	Logger *slog.Logger
}

// New creates a Provider based on ProviderConfig.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path, logger)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}
