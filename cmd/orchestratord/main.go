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

// Command orchestratord is the Orchestrator's process entrypoint.
//
// Usage:
//
//	orchestratord serve --config orchestrator.yaml
//	orchestratord validate-mcp-config --config orchestrator.yaml
//	orchestratord task submit --config orchestrator.yaml --title "..." --mode autonomous
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/meridianstack/orchestrator/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version     VersionCmd     `cmd:"" help:"Show version information."`
	Serve       ServeCmd       `cmd:"" help:"Run the Supervisor, Task Runner pool, and admin HTTP surface."`
	ValidateMCP ValidateMCPCmd `cmd:"validate-mcp-config" help:"Validate the mcp_servers section of a config file."`
	Task        TaskCmd        `cmd:"" help:"Submit or inspect tasks."`

	Config    string `short:"c" help:"Path to config file." type:"path" required:""`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("orchestratord version %s\n", version)
	return nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("orchestratord"),
		kong.Description("Orchestrator - task governance for externally defined agent work"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
