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
	"fmt"

	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

// ConditionHandler evaluates branching blocks. Three input shapes are
// supported: a bare condition expression, an if/then/else form, and a
// routes table for multi-way routing.
type ConditionHandler struct {
	eval *expression.Evaluator
}

func (h *ConditionHandler) Handles(blockType string) bool {
	return typeIn(blockType, "condition", "router", "if", "switch")
}

func (h *ConditionHandler) Execute(_ context.Context, ec *ExecutionContext, _ *Block, inputs map[string]any) (any, error) {
	env := contextEnv(ec)

	if cond, ok := inputs["condition"]; ok {
		result := h.evaluate(cond, ec, env)
		branch := "false"
		if result {
			branch = "true"
		}
		return map[string]any{"result": result, "branch": branch}, nil
	}

	if cond, ok := inputs["if"]; ok {
		result := h.evaluate(cond, ec, env)
		branch := "else"
		if result {
			branch = "then"
		}
		return map[string]any{"result": result, "branch": branch}, nil
	}

	if routes, ok := inputs["routes"].([]any); ok {
		for i, entry := range routes {
			route, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			cond := route["condition"]
			if cond == nil {
				cond = route["when"]
			}
			if !h.evaluate(cond, ec, env) {
				continue
			}
			branch := stringField(route, "name")
			if branch == "" {
				branch = stringField(route, "routeName")
			}
			if branch == "" {
				branch = fmt.Sprintf("route_%d", i)
			}
			return map[string]any{
				"result":       true,
				"branch":       branch,
				"matchedRoute": i,
				"condition":    cond,
			}, nil
		}
		return map[string]any{
			"result":       false,
			"branch":       "default",
			"matchedRoute": nil,
		}, nil
	}

	// No condition at all is a pass-through, not a failure.
	return map[string]any{"result": true, "branch": "default"}, nil
}

// evaluate reduces a condition value to a boolean. Strings run through
// the expression evaluator with loop placeholders substituted first;
// any evaluation failure is treated as false.
func (h *ConditionHandler) evaluate(cond any, ec *ExecutionContext, env map[string]any) bool {
	src, ok := cond.(string)
	if !ok {
		return expression.Truthy(cond)
	}
	if state := ec.CurrentLoop(); state != nil {
		src = expression.SubstituteLoop(src, state.Index, state.CurrentItem())
	}
	result, err := h.eval.EvaluateBool(src, env)
	if err != nil {
		return false
	}
	return result
}
