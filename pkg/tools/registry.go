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

package tools

import (
	"context"
	"fmt"

	"github.com/tobyhaynes/flowrun/pkg/llm"
)

// Invoker executes one tool call and returns its result as text.
type Invoker func(ctx context.Context, args map[string]any) (string, error)

// Registry maps tool names offered to the model onto their invokers.
// Each agent block builds its own registry from its tool configuration.
type Registry struct {
	defs     []llm.Tool
	invokers map[string]Invoker
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{invokers: map[string]Invoker{}}
}

// Register adds a tool definition and its invoker. Re-registering a
// name replaces the invoker but keeps the first definition.
func (r *Registry) Register(def llm.Tool, fn Invoker) {
	if _, exists := r.invokers[def.Name]; !exists {
		r.defs = append(r.defs, def)
	}
	r.invokers[def.Name] = fn
}

// Definitions returns all registered tool declarations in
// registration order.
func (r *Registry) Definitions() []llm.Tool {
	return r.defs
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Call invokes a registered tool by name.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	fn, ok := r.invokers[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return fn(ctx, args)
}
