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
	"sort"
)

// VariablesHandler applies variable assignments to the run context.
type VariablesHandler struct{}

func (h *VariablesHandler) Handles(blockType string) bool {
	return blockType == "variables"
}

func (h *VariablesHandler) Execute(_ context.Context, ec *ExecutionContext, _ *Block, inputs map[string]any) (any, error) {
	assignments := inputs["variables"]
	if assignments == nil {
		assignments = inputs["assignments"]
	}

	updated := map[string]any{}
	switch a := assignments.(type) {
	case map[string]any:
		for name, value := range a {
			ec.Variables[name] = value
			updated[name] = value
		}
	case []any:
		// Editor exports assignments as rows of {variableName, value}.
		for _, row := range a {
			m, ok := row.(map[string]any)
			if !ok {
				continue
			}
			name := stringField(m, "variableName")
			if name == "" {
				name = stringField(m, "name")
			}
			if name == "" {
				name = stringField(m, "key")
			}
			if name == "" {
				continue
			}
			ec.Variables[name] = m["value"]
			updated[name] = m["value"]
		}
	}

	names := make([]string, 0, len(ec.Variables))
	for k := range ec.Variables {
		names = append(names, k)
	}
	sort.Strings(names)
	return map[string]any{
		"updated":   updated,
		"variables": names,
	}, nil
}
