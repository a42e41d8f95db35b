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
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeServerScript writes a minimal shell script that behaves like an MCP
// server over stdio: it replies to initialize, tools/list, and tools/call
// with canned responses by matching on the method name in each request
// line, and ignores the initialized notification.
func fakeServerScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-mcp-server.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05"}}\n' "$id"
      ;;
    *'"method":"tools/list"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{}}]}}\n' "$id"
      ;;
    *'"method":"tools/call"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"ok"}]}}\n' "$id"
      ;;
    *) ;;
  esac
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake server script: %v", err)
	}
	return path
}

func TestClientConnectListToolsCallTool(t *testing.T) {
	script := fakeServerScript(t)
	c := NewClient(ServerConfig{ID: "fake", Command: []string{"/bin/sh", script}, TimeoutMS: 2000}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("expected one tool named echo, got %+v", tools)
	}

	result, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "ok" {
		t.Fatalf("unexpected call result: %+v", result)
	}
}

func TestClientConnectFailsForUnknownCommand(t *testing.T) {
	c := NewClient(ServerConfig{ID: "missing", Command: []string{"/no/such/binary"}, TimeoutMS: 500}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatal("expected connect to fail for a nonexistent binary")
	}
}
