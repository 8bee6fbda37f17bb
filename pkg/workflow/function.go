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
	"errors"
	"strings"

	"github.com/dop251/goja"

	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

// FunctionHandler runs user-supplied JavaScript in an embedded engine.
// The engine has no host bindings beyond the injected context object,
// so scripts cannot reach the filesystem or network.
type FunctionHandler struct {
	resolver *Resolver
}

func (h *FunctionHandler) Handles(blockType string) bool {
	return typeIn(blockType, "function", "code")
}

func (h *FunctionHandler) Execute(ctx context.Context, ec *ExecutionContext, block *Block, inputs map[string]any) (any, error) {
	// Code is taken raw from the block rather than from the resolved
	// inputs: references inside it must become language literals, not
	// plain-text substitutions.
	code, _ := block.Inputs["code"].(string)
	if code == "" {
		code, _ = inputs["code"].(string)
	}
	if strings.TrimSpace(code) == "" {
		return map[string]any{"executed": true}, nil
	}

	resolved := h.resolveCode(code, ec)

	vm := goja.New()
	vm.Set("context", map[string]any{
		"inputs":    ec.Inputs,
		"variables": ec.Variables,
		"outputs":   ec.Outputs,
	})
	if state := ec.CurrentLoop(); state != nil {
		vm.Set("_loop", map[string]any{
			"index":     state.Index,
			"iteration": state.Index,
			"item":      state.CurrentItem(),
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("execution cancelled")
		case <-done:
		}
	}()
	_, err := vm.RunString(resolved)
	close(done)

	if err != nil {
		traceback := err.Error()
		var exc *goja.Exception
		if errors.As(err, &exc) {
			traceback = exc.String()
		}
		return map[string]any{
			"error":        err.Error(),
			"traceback":    traceback,
			"resolvedCode": resolved,
		}, nil
	}

	ret := vm.Get("__return__")
	if ret == nil || goja.IsUndefined(ret) {
		return map[string]any{"executed": true}, nil
	}
	return ret.Export(), nil
}

// resolveCode replaces angle-bracket references with source literals.
// Inside an existing string literal the value is escaped for that
// quote style; elsewhere it becomes a JSON literal, which is valid
// JavaScript for every value shape the resolver can produce.
func (h *FunctionHandler) resolveCode(code string, ec *ExecutionContext) string {
	matches := referencePattern.FindAllStringSubmatchIndex(code, -1)
	if len(matches) == 0 {
		return code
	}

	var out strings.Builder
	var quote byte
	last := 0
	for _, loc := range matches {
		start, end := loc[0], loc[1]
		inner := code[loc[2]:loc[3]]

		segment := code[last:start]
		out.WriteString(segment)
		quote = scanStringState(segment, quote)
		last = end

		value := h.resolver.lookup(parsePath(inner), ec)

		if quote != 0 {
			s, ok := value.(string)
			if !ok {
				s = expression.Stringify(value)
			}
			out.WriteString(escapeForQuote(s, quote))
			continue
		}
		out.WriteString(jsLiteral(value))
	}
	out.WriteString(code[last:])
	return out.String()
}

// scanStringState advances a minimal string-literal tracker over a code
// segment. quote is the open quote character entering the segment, 0
// when outside a string; the return value is the state at its end.
func scanStringState(segment string, quote byte) byte {
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' || c == '`' {
			quote = c
		}
	}
	return quote
}

func escapeForQuote(s string, quote byte) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, string(quote), `\`+string(quote))
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return s
}

func jsLiteral(value any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(b)
}
