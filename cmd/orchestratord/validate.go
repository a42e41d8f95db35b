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
	"time"

	"github.com/meridianstack/orchestrator/pkg/config"
	"github.com/meridianstack/orchestrator/pkg/mcp"
)

// ValidateMCPCmd checks a config file's mcp_servers section: that it
// parses, that ids are unique, and optionally that each enabled server
// actually starts and answers a tools/list call.
type ValidateMCPCmd struct {
	Live bool `help:"Also connect to each enabled server and call tools/list."`
}

func (c *ValidateMCPCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, _, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(cfg.MCPServers) == 0 {
		fmt.Println("no mcp_servers configured")
		return nil
	}

	for _, sc := range cfg.MCPServers {
		status := "ok"
		if !sc.Enabled {
			status = "disabled"
		}
		fmt.Printf("%-20s transport=%-6s timeout_ms=%-6d %s\n", sc.ID, sc.Transport, sc.TimeoutMS, status)

		if !c.Live || !sc.Enabled {
			continue
		}

		connectCtx, cancel := context.WithTimeout(ctx, time.Duration(sc.TimeoutMS)*time.Millisecond)
		client := mcp.NewClient(mcp.ServerConfig{
			ID: sc.ID, Command: sc.Command, Env: sc.Env, TimeoutMS: sc.TimeoutMS,
		}, nil)
		if err := client.Connect(connectCtx); err != nil {
			cancel()
			return fmt.Errorf("%s: connect: %w", sc.ID, err)
		}
		tools, err := client.ListTools(connectCtx)
		cancel()
		_ = client.Disconnect()
		if err != nil {
			return fmt.Errorf("%s: list tools: %w", sc.ID, err)
		}
		fmt.Printf("  %d tool(s): ", len(tools))
		for i, t := range tools {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(t.Name)
		}
		fmt.Println()
	}

	return nil
}
