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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() *ExecutionContext {
	ec := NewExecutionContext(
		map[string]any{"user": "ada", "count": float64(3)},
		map[string]any{"region": "eu-west-1"},
	)
	ec.StoreOutput("Fetch Data", map[string]any{
		"status": float64(200),
		"items":  []any{"alpha", "beta"},
		"nested": map[string]any{"flag": true},
	})
	return ec
}

func TestResolveFullMatchPreservesType(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	assert.Equal(t, float64(3), r.ResolveString("<start.count>", ec))
	assert.Equal(t, "eu-west-1", r.ResolveString("<variable.region>", ec))
	assert.Equal(t, float64(200), r.ResolveString("<Fetch Data.status>", ec))
	assert.Equal(t, true, r.ResolveString("<fetch_data.nested.flag>", ec))
	assert.Equal(t, []any{"alpha", "beta"}, r.ResolveString("  <fetch_data.items>  ", ec))
}

func TestResolveEmbeddedStringifies(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	result := r.ResolveString("user=<start.user> count=<start.count>", ec)
	assert.Equal(t, "user=ada count=3", result)

	result = r.ResolveString("flag is <fetch_data.nested.flag>", ec)
	assert.Equal(t, "flag is True", result)

	result = r.ResolveString("items: <fetch_data.items>", ec)
	assert.Equal(t, `items: ["alpha","beta"]`, result)
}

func TestResolveBracketNotation(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	assert.Equal(t, true, r.ResolveString(`<fetch_data["nested"]["flag"]>`, ec))
	assert.Equal(t, true, r.ResolveString(`<fetch_data['nested']['flag']>`, ec))
}

func TestResolveNumericIndex(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	assert.Equal(t, "beta", r.ResolveString("<fetch_data.items.1>", ec))
	assert.Nil(t, r.ResolveString("<fetch_data.items.9>", ec))
}

func TestResolveUnknownRootIsNil(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	assert.Nil(t, r.ResolveString("<missing.value>", ec))
	assert.Equal(t, "x null y", r.ResolveString("x <missing.value> y", ec))
}

func TestResolveMissingPathYieldsNil(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	assert.Nil(t, r.ResolveString("<start.nope>", ec))
	assert.Nil(t, r.ResolveString("<fetch_data.nested.nope.deeper>", ec))
}

func TestResolveWalksCollections(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	resolved := r.Resolve(map[string]any{
		"url":  "https://api.example.com/<start.user>",
		"body": map[string]any{"count": "<start.count>"},
		"list": []any{"<variable.region>"},
	}, ec)

	m, ok := resolved.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/ada", m["url"])
	assert.Equal(t, float64(3), m["body"].(map[string]any)["count"])
	assert.Equal(t, "eu-west-1", m["list"].([]any)[0])
}

func TestResolveLoopRoot(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()
	ec.CurrentLoopID = "loop1"
	ec.LoopStates["loop1"] = &LoopState{
		Type:  "forEach",
		Items: []any{"first", "second"},
		Index: 1,
	}

	assert.Equal(t, 1, r.ResolveString("<loop.index>", ec))
	assert.Equal(t, "second", r.ResolveString("<loop.item>", ec))
	assert.Equal(t, "second", r.ResolveString("<loop.currentItem>", ec))

	// _loop is the injected alias for the active loop state.
	assert.Equal(t, 1, r.ResolveString("<_loop.index>", ec))
	assert.Equal(t, "second", r.ResolveString("<_loop.item>", ec))
	assert.Equal(t, []any{"first", "second"}, r.ResolveString("<_loop.items>", ec))
}

func TestResolveLoopRootOutsideLoop(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	assert.Nil(t, r.ResolveString("<_loop.item>", ec))
}

func TestParsePath(t *testing.T) {
	assert.Equal(t, []string{"start", "user"}, parsePath("start.user"))
	assert.Equal(t, []string{"My Block", "data", "key"}, parsePath(`My Block.data["key"]`))
	assert.Equal(t, []string{"a", "b", "0"}, parsePath("a.b.0"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "fetch_data", NormalizeName("Fetch Data"))
	assert.Equal(t, "already_normal", NormalizeName("already_normal"))
}
