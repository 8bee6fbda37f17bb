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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	flowerrors "github.com/tobyhaynes/flowrun/pkg/errors"
	"github.com/tobyhaynes/flowrun/pkg/httpclient"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropic creates an Anthropic provider client.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: anthropicBaseURL,
		client:  httpclient.New(httpclient.DefaultConfig()),
	}
}

func (p *Anthropic) Name() string { return ProviderAnthropic }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a completion request to the Messages API.
func (p *Anthropic) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	apiReq := p.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &flowerrors.ProviderError{
			Provider: ProviderAnthropic,
			Message:  fmt.Sprintf("request failed: %v", err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.errorFromResponse(resp, respBody)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	return p.parseResponse(&apiResp), nil
}

func (p *Anthropic) buildRequest(req ChatRequest) *anthropicRequest {
	apiReq := &anthropicRequest{
		Model:       req.Model,
		MaxTokens:   anthropicMaxTokens,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if apiReq.System != "" {
				apiReq.System += "\n\n"
			}
			apiReq.System += msg.Content
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Arguments,
				})
			}
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: "assistant", Content: blocks})
		case RoleTool:
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		default:
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: "user", Content: msg.Content})
		}
	}

	for _, tool := range req.Tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		apiReq.Tools = append(apiReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return apiReq
}

func (p *Anthropic) parseResponse(apiResp *anthropicResponse) *ChatResponse {
	resp := &ChatResponse{
		Model:      apiResp.Model,
		StopReason: mapAnthropicStopReason(apiResp.StopReason),
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return resp
}

func (p *Anthropic) errorFromResponse(resp *http.Response, body []byte) error {
	var errResp anthropicErrorResponse
	message := string(body)
	code := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Type
	}
	return &flowerrors.ProviderError{
		Provider:   ProviderAnthropic,
		Code:       code,
		StatusCode: resp.StatusCode,
		Message:    message,
		Suggestion: suggestionForStatus(resp.StatusCode),
		RequestID:  resp.Header.Get("request-id"),
	}
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// suggestionForStatus maps common HTTP status codes to actionable hints.
// Shared by all providers.
func suggestionForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "check that the API key is valid"
	case http.StatusForbidden:
		return "the API key lacks access to this model"
	case http.StatusNotFound:
		return "check the model name"
	case http.StatusTooManyRequests:
		return "rate limit hit, the runtime will retry with backoff"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "provider is having issues, retry later"
	}
	return ""
}
