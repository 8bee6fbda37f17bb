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

// Package expression evaluates condition and loop expressions safely.
// Expressions run inside the expr-lang VM, which exposes no filesystem,
// network, or process access, so workflow-supplied expressions cannot
// escape the runtime.
package expression

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and runs expressions with a program cache.
// Safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// baseEnv returns the constants and helper functions available to every
// expression, independent of workflow state.
func baseEnv() map[string]any {
	return map[string]any{
		"True":  true,
		"False": false,
		"None":  nil,
		"str": func(v any) string {
			return Stringify(v)
		},
		"bool": func(v any) bool {
			return Truthy(v)
		},
	}
}

// Evaluate compiles (or reuses) the expression and runs it with env
// merged over the base constants. env may be nil for pure expressions.
func (e *Evaluator) Evaluate(src string, env map[string]any) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := e.compile(src)
	if err != nil {
		return nil, err
	}

	merged := baseEnv()
	for k, v := range env {
		merged[k] = v
	}

	result, err := expr.Run(program, merged)
	if err != nil {
		return nil, fmt.Errorf("expression evaluation failed: %w", err)
	}
	return result, nil
}

// EvaluateBool evaluates the expression and reduces the result to a
// boolean using collection-aware truthiness.
func (e *Evaluator) EvaluateBool(src string, env map[string]any) (bool, error) {
	result, err := e.Evaluate(src, env)
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

func (e *Evaluator) compile(src string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("expression compilation failed: %w", err)
	}

	e.mu.Lock()
	e.cache[src] = program
	e.mu.Unlock()

	return program, nil
}

// Truthy reports whether a value is truthy: false for nil, false, zero
// numbers, empty strings, and empty collections.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}

// Stringify renders a value the way it would appear embedded in text:
// nil as "null", booleans capitalized, maps and slices as compact JSON,
// floats without a trailing ".0".
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "True"
		}
		return "False"
	case string:
		return val
	case float64:
		return FormatNumber(val)
	case float32:
		return FormatNumber(float64(val))
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice {
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// FormatNumber renders a float without an unnecessary fractional part,
// so 3.0 prints as "3" and 3.5 as "3.5".
func FormatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// SubstituteLoop rewrites loop placeholders in an expression before it
// is parsed. <loop.index> and <loop.iteration> become the current index;
// <loop.item> and <loop.currentItem> become the current item rendered as
// a literal (strings quoted, everything else JSON).
func SubstituteLoop(src string, index int, item any) string {
	idx := strconv.Itoa(index)
	src = strings.ReplaceAll(src, "<loop.index>", idx)
	src = strings.ReplaceAll(src, "<loop.iteration>", idx)

	var literal string
	switch val := item.(type) {
	case nil:
		literal = "None"
	case string:
		b, _ := json.Marshal(val)
		literal = string(b)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			literal = fmt.Sprint(val)
		} else {
			literal = string(b)
		}
	}
	src = strings.ReplaceAll(src, "<loop.item>", literal)
	src = strings.ReplaceAll(src, "<loop.currentItem>", literal)
	return src
}
