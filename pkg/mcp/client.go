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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer starts one span per JSON-RPC request this client sends. It reads
// the global TracerProvider at call time rather than caching a Tracer, so
// pkg/tracing.Setup can install a real provider after clients already
// exist (clients are constructed during dependency wiring, tracing is set
// up alongside it, and ordering between the two shouldn't matter).
func tracer() trace.Tracer {
	return otel.Tracer("github.com/meridianstack/orchestrator/pkg/mcp")
}

// ServerConfig configures one MCP server connection. It mirrors the
// mcp_servers entry schema from spec.md §6.
type ServerConfig struct {
	ID        string
	Command   []string
	Env       map[string]string
	TimeoutMS int
}

func (c ServerConfig) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type pendingCall struct {
	resultCh chan response
}

// Client speaks JSON-RPC 2.0 over one child process's stdio.
type Client struct {
	cfg    ServerConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingCall
	tools   []ToolDescriptor

	readerCancel context.CancelFunc
	readerDone   chan struct{}
}

// NewClient constructs an unconnected Client for cfg.
func NewClient(cfg ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger, pending: make(map[int64]*pendingCall)}
}

// Connect spawns the child process, starts the reader loop, performs the
// initialize/initialized handshake, and blocks until that handshake
// completes or ctx's handshake deadline expires.
func (c *Client) Connect(ctx context.Context) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	cmd := exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), envSlice(c.cfg.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return connectionError(c.cfg.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return connectionError(c.cfg.ID, err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return connectionError(c.cfg.ID, err)
	}

	c.cmd = cmd
	c.stdin = stdin

	readerCtx, readerCancel := context.WithCancel(context.Background())
	c.readerCancel = readerCancel
	c.readerDone = make(chan struct{})
	go c.readLoop(readerCtx, stdout)

	if _, err := c.call(handshakeCtx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "orchestrator", Version: "1.0.0"},
	}); err != nil {
		c.terminate()
		return fmt.Errorf("mcp: initialize %s: %w", c.cfg.ID, err)
	}

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.terminate()
		return fmt.Errorf("mcp: notifications/initialized %s: %w", c.cfg.ID, err)
	}

	c.logger.Info("mcp client connected", "server", c.cfg.ID, "command", c.cfg.Command)
	return nil
}

// Disconnect cancels the reader, terminates the child (graceful then
// forced), and cancels every pending request future.
func (c *Client) Disconnect() error {
	if c.readerCancel != nil {
		c.readerCancel()
	}
	c.terminate()

	c.mu.Lock()
	for id, p := range c.pending {
		close(p.resultCh)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) terminate() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		c.cmd.Wait()
		close(done)
	}()

	c.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.cmd.Process.Kill()
		<-done
	}
}

// ListTools invokes tools/list, respecting the server's configured timeout.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, protocolError("mcp.ListTools", c.cfg.ID, err.Error())
	}
	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return result.Tools, nil
}

// CallTool invokes tools/call for name with args, respecting the server's
// configured timeout.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, protocolError("mcp.CallTool", c.cfg.ID, err.Error())
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, span := tracer().Start(ctx, "mcp.request", trace.WithAttributes(
		attribute.String("mcp.server_id", c.cfg.ID),
		attribute.String("mcp.method", method),
	))
	defer span.End()

	result, err := c.doCall(ctx, method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (c *Client) doCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	p := &pendingCall{resultCh: make(chan response, 1)}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, clientError("mcp.call", c.cfg.ID, err)
	}
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		return nil, connectionError(c.cfg.ID, err)
	}

	select {
	case resp, ok := <-p.resultCh:
		if !ok {
			return nil, connectionError(c.cfg.ID, fmt.Errorf("connection closed while awaiting %s", method))
		}
		if resp.Error != nil {
			return nil, protocolError("mcp."+method, c.cfg.ID, fmt.Sprintf("code=%d message=%s", resp.Error.Code, resp.Error.Message))
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, timeoutError("mcp."+method, c.cfg.ID, ctx.Err())
	}
}

func (c *Client) notify(method string, params any) error {
	req := request{JSONRPC: "2.0", Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return clientError("mcp.notify", c.cfg.ID, err)
	}
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		return connectionError(c.cfg.ID, err)
	}
	return nil
}

// readLoop reads newline-delimited JSON from the child's stdout and routes
// responses by id. Malformed lines are logged and skipped, never fatal,
// per spec.md §4.5.
func (c *Client) readLoop(ctx context.Context, stdout io.Reader) {
	defer close(c.readerDone)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp: malformed line from server", "server", c.cfg.ID, "error", err)
			continue
		}
		if resp.isNotification() {
			c.logger.Debug("mcp: notification received", "server", c.cfg.ID)
			continue
		}

		c.mu.Lock()
		p, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			continue
		}
		p.resultCh <- resp
	}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
