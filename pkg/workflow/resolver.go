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
	"regexp"
	"strconv"
	"strings"

	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

// referencePattern matches angle-bracket references like <start.user>,
// <My Block.data["key"]> or <results.items.0.name>.
var referencePattern = regexp.MustCompile(`<([a-zA-Z_][\w\s-]*(?:\.[\w\s-]+|\[\s*"[^"]*"\s*\]|\[\s*'[^']*'\s*\])*)>`)

// Resolver substitutes angle-bracket references against run state.
type Resolver struct{}

// NewResolver creates a reference resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve walks a value recursively, resolving references in every
// string it contains. Maps and slices are copied, other values pass
// through untouched.
func (r *Resolver) Resolve(value any, ec *ExecutionContext) any {
	switch v := value.(type) {
	case string:
		return r.ResolveString(v, ec)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = r.Resolve(item, ec)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.Resolve(item, ec)
		}
		return out
	default:
		return value
	}
}

// ResolveString resolves references in a single string. When the whole
// trimmed string is exactly one reference the looked-up value is
// returned with its type preserved; embedded references are stringified
// in place. A reference that names nothing resolves to nil, which
// embeds as "null".
func (r *Resolver) ResolveString(s string, ec *ExecutionContext) any {
	trimmed := strings.TrimSpace(s)
	if m := referencePattern.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		return r.lookup(parsePath(m[1]), ec)
	}

	return referencePattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := match[1 : len(match)-1]
		return expression.Stringify(r.lookup(parsePath(inner), ec))
	})
}

// parsePath splits a reference body into segments, honouring both dot
// notation and quoted bracket keys.
func parsePath(ref string) []string {
	var segments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for i := 0; i < len(ref); {
		switch ref[i] {
		case '.':
			flush()
			i++
		case '[':
			flush()
			end := strings.IndexByte(ref[i:], ']')
			if end < 0 {
				current.WriteByte(ref[i])
				i++
				continue
			}
			key := strings.TrimSpace(ref[i+1 : i+end])
			key = strings.Trim(key, `"'`)
			segments = append(segments, key)
			i += end + 1
		default:
			current.WriteByte(ref[i])
			i++
		}
	}
	flush()
	return segments
}

// lookup resolves a parsed path against run state. A path that names
// nothing, at the root or mid-traversal, resolves to nil.
func (r *Resolver) lookup(path []string, ec *ExecutionContext) any {
	if len(path) == 0 {
		return nil
	}

	var current any
	switch NormalizeName(path[0]) {
	case "start":
		current = anyMap(ec.Inputs)
	case "variable", "variables":
		current = anyMap(ec.Variables)
	case "loop", "_loop":
		state := ec.CurrentLoop()
		if state == nil {
			return nil
		}
		current = map[string]any{
			"index":       state.Index,
			"iteration":   state.Index,
			"item":        state.CurrentItem(),
			"currentItem": state.CurrentItem(),
			"items":       state.Items,
		}
	default:
		v, ok := ec.Lookup(path[0])
		if !ok {
			return nil
		}
		current = v
	}

	for _, segment := range path[1:] {
		if current == nil {
			return nil
		}
		switch node := current.(type) {
		case map[string]any:
			current = node[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
