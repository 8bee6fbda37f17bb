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
	"os"
	"strings"

	flowerrors "github.com/tobyhaynes/flowrun/pkg/errors"
	"github.com/tobyhaynes/flowrun/pkg/httpclient"
)

const azureDefaultAPIVersion = "2024-02-01"

// OpenAICompatible talks to any chat-completions endpoint that follows
// the OpenAI wire format: OpenAI itself, Azure OpenAI, DeepSeek, xAI,
// Cerebras, Groq, Mistral, OpenRouter, Ollama and vLLM.
type OpenAICompatible struct {
	provider   string
	baseURL    string
	apiKey     string
	azure      bool
	apiVersion string
	client     *http.Client
}

// NewOpenAICompatible creates a client for an OpenAI-format endpoint.
func NewOpenAICompatible(provider, baseURL, apiKey string) *OpenAICompatible {
	return &OpenAICompatible{
		provider: provider,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		client:   httpclient.New(httpclient.DefaultConfig()),
	}
}

// NewAzure creates a client for an Azure OpenAI deployment. The
// endpoint comes from AZURE_OPENAI_ENDPOINT and the API version from
// AZURE_OPENAI_API_VERSION.
func NewAzure(apiKey string) (*OpenAICompatible, error) {
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if endpoint == "" {
		return nil, &flowerrors.ConfigError{
			Key:        "AZURE_OPENAI_ENDPOINT",
			Message:    "azure provider requires AZURE_OPENAI_ENDPOINT",
			Suggestion: "set AZURE_OPENAI_ENDPOINT to your resource URL, e.g. https://myresource.openai.azure.com",
		}
	}
	apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
	if apiVersion == "" {
		apiVersion = azureDefaultAPIVersion
	}
	return &OpenAICompatible{
		provider:   ProviderAzure,
		baseURL:    strings.TrimSuffix(endpoint, "/"),
		apiKey:     apiKey,
		azure:      true,
		apiVersion: apiVersion,
		client:     httpclient.New(httpclient.DefaultConfig()),
	}, nil
}

func (p *OpenAICompatible) Name() string { return p.provider }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends a chat-completions request.
func (p *OpenAICompatible) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	apiReq := openAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		m := openAIMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, call := range msg.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			m.ToolCalls = append(m.ToolCalls, openAIToolCall{
				ID:   call.ID,
				Type: "function",
				Function: openAIFunction{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		apiReq.Messages = append(apiReq.Messages, m)
	}

	for _, tool := range req.Tools {
		var t openAITool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.InputSchema
		if t.Function.Parameters == nil {
			t.Function.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		apiReq.Tools = append(apiReq.Tools, t)
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", p.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.azure {
		httpReq.Header.Set("api-key", p.apiKey)
	} else if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &flowerrors.ProviderError{
			Provider: p.provider,
			Message:  fmt.Sprintf("request failed: %v", err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p.provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.errorFromResponse(resp, respBody)
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.provider, err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, &flowerrors.ProviderError{
			Provider: p.provider,
			Message:  "response contained no choices",
		}
	}

	choice := apiResp.Choices[0]
	result := &ChatResponse{
		Content:    choice.Message.Content,
		Model:      apiResp.Model,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			// Malformed arguments become an empty map rather than a
			// hard failure; the tool will report the missing fields.
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

func (p *OpenAICompatible) endpoint(model string) string {
	if p.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", p.baseURL, model, p.apiVersion)
	}
	return p.baseURL + "/chat/completions"
}

func (p *OpenAICompatible) errorFromResponse(resp *http.Response, body []byte) error {
	var errResp openAIErrorResponse
	message := string(body)
	code := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Type
	}
	return &flowerrors.ProviderError{
		Provider:   p.provider,
		Code:       code,
		StatusCode: resp.StatusCode,
		Message:    message,
		Suggestion: suggestionForStatus(resp.StatusCode),
		RequestID:  resp.Header.Get("x-request-id"),
	}
}
