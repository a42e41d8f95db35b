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

import "github.com/meridianstack/orchestrator/pkg/orcherr"

// Error taxonomy per spec.md §4.5: connection failures, timeouts,
// malformed wire traffic, and a generic catch-all, all built on the
// ambient orcherr.Error so callers can still branch on orcherr.Kind.
func connectionError(serverID string, cause error) error {
	return orcherr.New("mcp.Connect", orcherr.KindNetwork, "failed to connect to MCP server "+serverID, cause)
}

func timeoutError(op, serverID string, cause error) error {
	return orcherr.New(op, orcherr.KindTimeout, "MCP request to "+serverID+" timed out", cause)
}

func protocolError(op, serverID, message string) error {
	return orcherr.New(op, orcherr.KindProtocol, "MCP protocol error from "+serverID+": "+message, nil)
}

func clientError(op, serverID string, cause error) error {
	return orcherr.New(op, orcherr.KindFatal, "MCP client error for "+serverID, cause)
}
