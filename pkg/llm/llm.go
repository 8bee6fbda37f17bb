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

// Package llm defines the provider abstraction used by agent blocks and
// the concrete provider implementations behind it.
package llm

import "context"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant messages that request tool use.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string

	// Name is the tool name for tool-role messages.
	Name string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Tool describes a callable tool offered to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature *float64
	MaxTokens   *int
}

// Usage reports token consumption for a completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is a provider-agnostic completion result.
type ChatResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Model      string
	StopReason string
	Usage      Usage
}

// Provider is a chat completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
