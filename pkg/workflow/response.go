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
	"strconv"
	"strings"
)

// ResponseHandler shapes the final workflow output.
type ResponseHandler struct{}

func (h *ResponseHandler) Handles(blockType string) bool {
	return isResponseType(blockType)
}

// Execute always produces the {data, status, headers, dataMode}
// envelope. In structured mode builderData rows of {name, value}
// assemble the payload; otherwise the resolved data input is used,
// falling back to the full input map.
func (h *ResponseHandler) Execute(_ context.Context, _ *ExecutionContext, _ *Block, inputs map[string]any) (any, error) {
	mode, _ := inputs["dataMode"].(string)
	if mode == "" {
		mode = "raw"
	}

	var data any
	builder, _ := inputs["builderData"].([]any)
	if mode == "structured" && len(builder) > 0 {
		structured := map[string]any{}
		for _, row := range builder {
			m, ok := row.(map[string]any)
			if !ok {
				continue
			}
			name := stringField(m, "name")
			if name == "" {
				continue
			}
			structured[name] = m["value"]
		}
		data = structured
	} else if v, ok := inputs["data"]; ok && v != nil {
		data = v
	} else {
		data = inputs
	}

	out := map[string]any{
		"data":     data,
		"dataMode": mode,
	}
	if status, ok := numberValue(inputs["status"]); ok {
		out["status"] = int(status)
	} else {
		out["status"] = nil
	}
	if headers := parseHeaderRows(inputs["headers"]); len(headers) > 0 {
		out["headers"] = headers
	}
	return out, nil
}

// parseHeaderRows accepts either a plain map or editor table rows of
// {cells: {Key, Value}}; keys and values are trimmed.
func parseHeaderRows(raw any) map[string]any {
	headers := map[string]any{}
	switch v := raw.(type) {
	case map[string]any:
		for k, val := range v {
			headers[strings.TrimSpace(k)] = val
		}
	case []any:
		for _, row := range v {
			m, ok := row.(map[string]any)
			if !ok {
				continue
			}
			if cells, ok := m["cells"].(map[string]any); ok {
				m = cells
			}
			key := stringField(m, "Key")
			if key == "" {
				key = stringField(m, "key")
			}
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			value := m["Value"]
			if value == nil {
				value = m["value"]
			}
			if s, ok := value.(string); ok {
				value = strings.TrimSpace(s)
			}
			headers[key] = value
		}
	}
	return headers
}

// numberValue extracts a numeric input regardless of JSON or YAML
// decoding producing float64, int or a numeric string.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
