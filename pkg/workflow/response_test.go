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
)

func runResponse(t *testing.T, inputs map[string]any) any {
	t.Helper()
	h := &ResponseHandler{}
	out, err := h.Execute(context.Background(), NewExecutionContext(nil, nil), &Block{Type: "response"}, inputs)
	require.NoError(t, err)
	return out
}

func TestResponseRawEnvelope(t *testing.T) {
	out := runResponse(t, map[string]any{"data": map[string]any{"answer": float64(42)}})

	result := out.(map[string]any)
	assert.Equal(t, map[string]any{"answer": float64(42)}, result["data"])
	assert.Equal(t, "raw", result["dataMode"])
	assert.Nil(t, result["status"])
	assert.NotContains(t, result, "headers")
}

func TestResponseScalarData(t *testing.T) {
	out := runResponse(t, map[string]any{"data": float64(3)})

	result := out.(map[string]any)
	assert.Equal(t, float64(3), result["data"])
	assert.Equal(t, "raw", result["dataMode"])
}

func TestResponseFallbackToInputs(t *testing.T) {
	inputs := map[string]any{"a": "x", "b": "y"}
	out := runResponse(t, inputs)
	assert.Equal(t, inputs, out.(map[string]any)["data"])
}

func TestResponseStructuredBuilder(t *testing.T) {
	out := runResponse(t, map[string]any{
		"dataMode": "structured",
		"builderData": []any{
			map[string]any{"name": "msg", "value": "hi"},
			map[string]any{"name": "count", "value": float64(2)},
			map[string]any{"value": "no name, skipped"},
		},
		"status": float64(201),
		"headers": []any{
			map[string]any{"cells": map[string]any{"Key": " X-Trace ", "Value": " abc "}},
			map[string]any{"cells": map[string]any{"Key": "", "Value": "ignored"}},
		},
	})

	result := out.(map[string]any)
	assert.Equal(t, 201, result["status"])
	assert.Equal(t, "structured", result["dataMode"])
	assert.Equal(t, map[string]any{"msg": "hi", "count": float64(2)}, result["data"])
	assert.Equal(t, map[string]any{"X-Trace": "abc"}, result["headers"])
}

func TestResponseStructuredWithoutBuilderFallsBack(t *testing.T) {
	out := runResponse(t, map[string]any{
		"dataMode": "structured",
		"data":     map[string]any{"msg": "hi"},
	})

	result := out.(map[string]any)
	assert.Equal(t, map[string]any{"msg": "hi"}, result["data"])
	assert.Equal(t, "structured", result["dataMode"])
}

func TestVariablesAssignments(t *testing.T) {
	h := &VariablesHandler{}
	ec := NewExecutionContext(nil, map[string]any{"existing": "old"})

	out, err := h.Execute(context.Background(), ec, &Block{Type: "variables"}, map[string]any{
		"variables": map[string]any{"existing": "new", "added": float64(1)},
	})
	require.NoError(t, err)

	assert.Equal(t, "new", ec.Variables["existing"])
	assert.Equal(t, float64(1), ec.Variables["added"])

	result := out.(map[string]any)
	assert.Equal(t, map[string]any{"existing": "new", "added": float64(1)}, result["updated"])
	assert.Equal(t, []string{"added", "existing"}, result["variables"])
}

func TestVariablesRowForm(t *testing.T) {
	h := &VariablesHandler{}
	ec := NewExecutionContext(nil, nil)

	out, err := h.Execute(context.Background(), ec, &Block{Type: "variables"}, map[string]any{
		"variables": []any{
			map[string]any{"variableName": "count", "value": float64(3)},
			map[string]any{"name": "region", "value": "us-east-1"},
			map[string]any{"value": "no name, skipped"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(3), ec.Variables["count"])
	assert.Equal(t, "us-east-1", ec.Variables["region"])
	assert.Len(t, ec.Variables, 2)

	result := out.(map[string]any)
	assert.Equal(t, map[string]any{"count": float64(3), "region": "us-east-1"}, result["updated"])
	assert.Equal(t, []string{"count", "region"}, result["variables"])
}

func TestStartReturnsInputs(t *testing.T) {
	h := &StartHandler{}
	inputs := map[string]any{"user": "ada"}
	ec := NewExecutionContext(inputs, nil)

	out, err := h.Execute(context.Background(), ec, &Block{Type: "start"}, nil)
	require.NoError(t, err)
	assert.Equal(t, inputs, out)
}
