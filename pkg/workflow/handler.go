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
	"log/slog"
	"net/http"

	"github.com/tobyhaynes/flowrun/pkg/httpclient"
	"github.com/tobyhaynes/flowrun/pkg/llm"
	"github.com/tobyhaynes/flowrun/pkg/tools"
	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

// Handler executes one category of block types.
type Handler interface {
	// Handles reports whether this handler owns the given block type.
	Handles(blockType string) bool

	// Execute runs the block with its resolved inputs and returns the
	// block output. A returned error marks the block failed; transient
	// errors are retried by the executor.
	Execute(ctx context.Context, ec *ExecutionContext, block *Block, inputs map[string]any) (any, error)
}

// MCPCaller invokes a tool on a remote MCP server.
type MCPCaller interface {
	CallTool(ctx context.Context, serverURL, toolName string, args map[string]any) (string, error)
}

// ProviderFactory builds an LLM provider client for a detected
// provider name.
type ProviderFactory func(provider, apiKey string) (llm.Provider, error)

// Deps bundles the shared dependencies handlers are built from.
type Deps struct {
	Resolver   *Resolver
	Eval       *expression.Evaluator
	HTTPClient *http.Client
	Providers  ProviderFactory
	Workspace  *tools.Workspace
	MCP        MCPCaller
	Logger     *slog.Logger
}

func (d *Deps) fill() {
	if d.Resolver == nil {
		d.Resolver = NewResolver()
	}
	if d.Eval == nil {
		d.Eval = expression.New()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = httpclient.New(httpclient.Config{})
	}
	if d.Providers == nil {
		d.Providers = llm.New
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// DefaultHandlers builds the full handler set.
func DefaultHandlers(deps Deps) []Handler {
	deps.fill()
	return []Handler{
		&StartHandler{},
		&VariablesHandler{},
		&ResponseHandler{},
		&ConditionHandler{eval: deps.Eval},
		&FunctionHandler{resolver: deps.Resolver},
		&APIHandler{client: deps.HTTPClient},
		&AgentHandler{
			providers: deps.Providers,
			workspace: deps.Workspace,
			mcp:       deps.MCP,
			logger:    deps.Logger,
		},
	}
}

func typeIn(blockType string, types ...string) bool {
	for _, t := range types {
		if blockType == t {
			return true
		}
	}
	return false
}

func isLoopType(blockType string) bool {
	return typeIn(blockType, "loop", "loop_block", "foreach", "forEach", "while")
}

func isDoWhileType(blockType string) bool {
	return typeIn(blockType, "doWhile", "dowhile", "do-while")
}

func isResponseType(blockType string) bool {
	return typeIn(blockType, "response", "output")
}

// contextEnv builds the evaluation environment for condition and loop
// expressions: workflow inputs, variables and every stored block output.
func contextEnv(ec *ExecutionContext) map[string]any {
	env := map[string]any{
		"start":    ec.Inputs,
		"variable": ec.Variables,
	}
	for name, value := range ec.Outputs {
		env[name] = value
	}
	return env
}
