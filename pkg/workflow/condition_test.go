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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

func runCondition(t *testing.T, ec *ExecutionContext, inputs map[string]any) map[string]any {
	t.Helper()
	h := &ConditionHandler{eval: expression.New()}
	out, err := h.Execute(context.Background(), ec, &Block{ID: "c1", Name: "Check", Type: "condition"}, inputs)
	require.NoError(t, err)
	result, ok := out.(map[string]any)
	require.True(t, ok)
	return result
}

func TestConditionExpressionForm(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"score": float64(8)}, nil)

	out := runCondition(t, ec, map[string]any{"condition": "start.score > 5"})
	assert.Equal(t, true, out["result"])
	assert.Equal(t, "true", out["branch"])

	out = runCondition(t, ec, map[string]any{"condition": "start.score > 50"})
	assert.Equal(t, false, out["result"])
	assert.Equal(t, "false", out["branch"])
}

func TestConditionBooleanValue(t *testing.T) {
	ec := NewExecutionContext(nil, nil)

	out := runCondition(t, ec, map[string]any{"condition": true})
	assert.Equal(t, "true", out["branch"])
}

func TestConditionIfThenElse(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"ok": true}, nil)

	out := runCondition(t, ec, map[string]any{"if": "start.ok"})
	assert.Equal(t, "then", out["branch"])

	out = runCondition(t, ec, map[string]any{"if": "not start.ok"})
	assert.Equal(t, "else", out["branch"])
}

func TestConditionRoutes(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"tier": "gold"}, nil)

	out := runCondition(t, ec, map[string]any{"routes": []any{
		map[string]any{"condition": `start.tier == "silver"`, "name": "silver path"},
		map[string]any{"condition": `start.tier == "gold"`, "name": "gold path"},
	}})
	assert.Equal(t, "gold path", out["branch"])
	assert.Equal(t, 1, out["matchedRoute"])

	out = runCondition(t, ec, map[string]any{"routes": []any{
		map[string]any{"condition": `start.tier == "bronze"`},
	}})
	assert.Equal(t, "default", out["branch"])
	assert.Equal(t, false, out["result"])
	require.Contains(t, out, "matchedRoute")
	assert.Nil(t, out["matchedRoute"])
}

func TestConditionRouteNameFallback(t *testing.T) {
	ec := NewExecutionContext(nil, nil)

	out := runCondition(t, ec, map[string]any{"routes": []any{
		map[string]any{"condition": "False"},
		map[string]any{"condition": "True", "routeName": "legacy name"},
	}})
	assert.Equal(t, "legacy name", out["branch"])

	out = runCondition(t, ec, map[string]any{"routes": []any{
		map[string]any{"condition": "False"},
		map[string]any{"condition": "True"},
	}})
	assert.Equal(t, "route_1", out["branch"])
	assert.Equal(t, 1, out["matchedRoute"])
}

func TestConditionNoInputPassesThrough(t *testing.T) {
	ec := NewExecutionContext(nil, nil)

	out := runCondition(t, ec, map[string]any{})
	assert.Equal(t, true, out["result"])
	assert.Equal(t, "default", out["branch"])
}

func TestConditionEvaluationFailureIsFalse(t *testing.T) {
	ec := NewExecutionContext(nil, nil)

	out := runCondition(t, ec, map[string]any{"condition": "this is (not valid"})
	assert.Equal(t, false, out["result"])
	assert.Equal(t, "false", out["branch"])
}

func TestConditionUsesBlockOutputs(t *testing.T) {
	ec := NewExecutionContext(nil, nil)
	ec.StoreOutput("Fetch Data", map[string]any{"status": float64(200)})

	out := runCondition(t, ec, map[string]any{"condition": "fetch_data.status == 200"})
	assert.Equal(t, true, out["result"])
}

func TestConditionLoopSubstitution(t *testing.T) {
	ec := NewExecutionContext(nil, nil)
	ec.CurrentLoopID = "loop1"
	ec.LoopStates["loop1"] = &LoopState{Type: "forEach", Items: []any{"a", "b"}, Index: 1}

	out := runCondition(t, ec, map[string]any{"condition": `<loop.item> == "b"`})
	assert.Equal(t, true, out["result"])
}
