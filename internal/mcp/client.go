// Copyright 2025 Toby Haynes
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

// Package mcp provides a minimal MCP client for calling tools on
// remote servers over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultCallTimeout = 60 * time.Second

// Caller opens a fresh connection per tool call. Workflow runs are
// short-lived, so connection reuse is not worth the session management.
type Caller struct {
	// Timeout bounds the whole call including initialization.
	Timeout time.Duration
}

// NewCaller creates a Caller with the default 60s call budget.
func NewCaller() *Caller {
	return &Caller{Timeout: defaultCallTimeout}
}

// CallTool connects to an MCP server, initializes the session and
// invokes one tool. Text content is concatenated; binary content is
// rendered as a JSON descriptor with base64 data.
func (c *Caller) CallTool(ctx context.Context, serverURL, toolName string, args map[string]any) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mcpClient, err := client.NewStreamableHttpClient(serverURL)
	if err != nil {
		return "", fmt.Errorf("create MCP client for %s: %w", serverURL, err)
	}
	defer mcpClient.Close()

	if err := mcpClient.Start(ctx); err != nil {
		return "", fmt.Errorf("connect to MCP server %s: %w", serverURL, err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "flowrun",
				Version: "0.1.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return "", fmt.Errorf("initialize MCP server %s: %w", serverURL, err)
	}

	result, err := mcpClient.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("MCP tool %s failed: %w", toolName, err)
	}

	text := renderContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("MCP tool %s returned an error: %s", toolName, text)
	}
	return text, nil
}

func renderContent(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		if textContent, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, textContent.Text)
			continue
		}
		if imageContent, ok := mcp.AsImageContent(item); ok {
			descriptor, err := json.Marshal(map[string]any{
				"type":     "image",
				"mimeType": imageContent.MIMEType,
				"data":     imageContent.Data,
			})
			if err == nil {
				parts = append(parts, string(descriptor))
			}
			continue
		}
		// Unknown content types pass through as raw JSON.
		if raw, err := json.Marshal(item); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
