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

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tobyhaynes/flowrun/pkg/llm"
	"github.com/tobyhaynes/flowrun/pkg/tools"
	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

const (
	// maxToolIterations bounds the model/tool round-trip loop.
	maxToolIterations = 50

	// maxMessageHistory caps the conversation sent to the provider.
	maxMessageHistory = 30

	// maxToolResultSize caps each tool result fed back to the model.
	maxToolResultSize = 50000

	defaultAgentModel = "gpt-4o"
)

var envVarPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// AgentHandler drives an LLM tool-use loop for agent blocks.
type AgentHandler struct {
	providers ProviderFactory
	workspace *tools.Workspace
	mcp       MCPCaller
	logger    *slog.Logger
}

func (h *AgentHandler) Handles(blockType string) bool {
	return typeIn(blockType, "agent", "llm")
}

func (h *AgentHandler) Execute(ctx context.Context, ec *ExecutionContext, block *Block, inputs map[string]any) (any, error) {
	model := strings.TrimSpace(stringField(inputs, "model"))
	if model == "" {
		model = defaultAgentModel
	}
	providerName := llm.DetectProvider(model)

	apiKey, err := h.resolveAPIKey(providerName, inputs)
	if err != nil {
		return nil, err
	}

	provider, err := h.providers(providerName, apiKey)
	if err != nil {
		return nil, err
	}

	messages := h.buildInitialMessages(inputs)
	registry, err := h.buildTools(inputs)
	if err != nil {
		return nil, err
	}

	req := llm.ChatRequest{
		Model: llm.StripProviderPrefix(model),
		Tools: registry.Definitions(),
	}
	if t, ok := numberValue(inputs["temperature"]); ok {
		req.Temperature = &t
	}
	if mt, ok := numberValue(inputs["maxTokens"]); ok {
		tokens := int(mt)
		req.MaxTokens = &tokens
	}

	logger := h.logger
	if logger == nil {
		logger = slog.Default()
	}

	var content string
	var callRecords []any
	for iteration := 0; iteration < maxToolIterations; iteration++ {
		req.Messages = pruneMessages(messages)

		resp, err := provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			content = resp.Content
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			logger.Debug("executing tool",
				slog.String("tool", call.Name),
				slog.String("block", block.Name))

			result, err := registry.Call(ctx, call.Name, call.Arguments)
			if err != nil {
				result = fmt.Sprintf(`{"success": false, "error": %q}`, err.Error())
			}
			result = truncateToolResult(result)

			callRecords = append(callRecords, map[string]any{
				"name":      call.Name,
				"arguments": call.Arguments,
				"result":    result,
			})
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	output := map[string]any{
		"content":  content,
		"model":    model,
		"provider": providerName,
		"toolCalls": map[string]any{
			"list":  callRecords,
			"count": len(callRecords),
		},
	}

	if format, ok := inputs["responseFormat"]; ok && format != nil {
		applyResponseFormat(output, content, format)
	}
	return output, nil
}

// resolveAPIKey picks the block-level key over the environment and
// interpolates {{VAR}} placeholders from the environment.
func (h *AgentHandler) resolveAPIKey(providerName string, inputs map[string]any) (string, error) {
	apiKey := strings.TrimSpace(stringField(inputs, "apiKey"))
	apiKey = envVarPattern.ReplaceAllStringFunc(apiKey, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
	if apiKey == "" {
		apiKey = llm.APIKeyFromEnv(providerName)
	}
	if apiKey == "" && llm.RequiresAPIKey(providerName) {
		return "", fmt.Errorf("no API key found for provider %s (set %s)",
			providerName, strings.Join(llm.APIKeyEnvVars(providerName), " or "))
	}
	return apiKey, nil
}

func (h *AgentHandler) buildInitialMessages(inputs map[string]any) []llm.Message {
	var messages []llm.Message
	if system := strings.TrimSpace(stringField(inputs, "systemPrompt")); system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}

	prompt := stringField(inputs, "userPrompt")
	if prompt == "" {
		prompt = stringField(inputs, "prompt")
	}
	if contextValue, ok := inputs["context"]; ok && contextValue != nil {
		rendered := expression.Stringify(contextValue)
		if rendered != "" {
			prompt = prompt + "\n\nContext:\n" + rendered
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return messages
}

// buildTools assembles the per-block tool registry. Workspace tools
// are always registered under the local_ prefix when a workspace is
// configured; MCP entries in the tools input route to their server.
func (h *AgentHandler) buildTools(inputs map[string]any) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	h.registerNative(registry)

	entries, _ := inputs["tools"].([]any)
	for _, entry := range entries {
		cfg, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		switch stringField(cfg, "type") {
		case "mcp":
			params, _ := cfg["params"].(map[string]any)
			if params == nil {
				params = cfg
			}
			toolName := stringField(params, "toolName")
			serverURL := stringField(params, "serverUrl")
			if toolName == "" || serverURL == "" {
				continue
			}
			schema, _ := cfg["schema"].(map[string]any)
			if schema == nil {
				schema, _ = params["schema"].(map[string]any)
			}
			def := llm.Tool{
				Name:        toolName,
				Description: stringField(cfg, "description"),
				InputSchema: schema,
			}
			registry.Register(def, h.mcpInvoker(serverURL, toolName))
		}
	}
	return registry, nil
}

func (h *AgentHandler) registerNative(registry *tools.Registry) {
	if h.workspace == nil {
		return
	}
	for _, def := range h.workspace.Definitions() {
		shortName := strings.TrimPrefix(def.Name, tools.LocalPrefix)
		workspace := h.workspace
		registry.Register(def, func(ctx context.Context, args map[string]any) (string, error) {
			result := workspace.Execute(ctx, shortName, args)
			encoded, err := json.Marshal(result)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		})
	}
}

func (h *AgentHandler) mcpInvoker(serverURL, toolName string) tools.Invoker {
	return func(ctx context.Context, args map[string]any) (string, error) {
		if h.mcp == nil {
			return "", fmt.Errorf("no MCP client configured")
		}
		return h.mcp.CallTool(ctx, serverURL, toolName, args)
	}
}

// pruneMessages caps conversation length, keeping the first message
// for system context and the most recent turns, with a marker noting
// the gap.
func pruneMessages(messages []llm.Message) []llm.Message {
	if len(messages) <= maxMessageHistory {
		return messages
	}
	pruned := make([]llm.Message, 0, maxMessageHistory+1)
	pruned = append(pruned, messages[0])
	pruned = append(pruned, llm.Message{
		Role:    llm.RoleUser,
		Content: "[earlier conversation truncated]",
	})
	pruned = append(pruned, messages[len(messages)-(maxMessageHistory-1):]...)
	return pruned
}

func truncateToolResult(result string) string {
	if len(result) <= maxToolResultSize {
		return result
	}
	omitted := len(result) - maxToolResultSize
	return result[:maxToolResultSize] + fmt.Sprintf("\n...[truncated %d bytes]", omitted)
}

// applyResponseFormat parses the final content as JSON and merges it
// into the output, validating against a JSON schema when one is given.
func applyResponseFormat(output map[string]any, content string, format any) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		output["_parse_error"] = fmt.Sprintf("response is not valid JSON: %v", err)
		return
	}
	for k, v := range parsed {
		output[k] = v
	}

	var schema map[string]any
	if cfg, ok := format.(map[string]any); ok {
		if s, ok := cfg["schema"].(map[string]any); ok {
			schema = s
		} else if _, hasType := cfg["type"]; hasType {
			schema = cfg
		}
	}
	if schema == nil {
		return
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(parsed),
	)
	if err != nil {
		output["_schema_valid"] = false
		output["_schema_error"] = err.Error()
		return
	}
	output["_schema_valid"] = result.Valid()
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		output["_schema_error"] = strings.Join(problems, "; ")
	}
}
