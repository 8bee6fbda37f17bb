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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"encoding/json"

	"gopkg.in/yaml.v3"

	flowerrors "github.com/tobyhaynes/flowrun/pkg/errors"
)

// Block is one node of a workflow graph.
type Block struct {
	ID       string
	Name     string
	Type     string
	ParentID string
	Inputs   map[string]any
	Outputs  map[string]any
}

// Edge is a directed connection between two blocks.
type Edge struct {
	Source       string
	Target       string
	SourceHandle string
}

// Document is a parsed workflow: blocks keyed by id, a deterministic
// block order, and the edge list.
type Document struct {
	Blocks map[string]*Block
	Order  []string
	Edges  []Edge
}

// LoadFile reads and parses a workflow document. The format is chosen
// by extension: .yaml/.yml parse as YAML, everything else as JSON.
// Exports wrapped in a {"state": {...}} envelope are unwrapped.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &flowerrors.ValidationError{
				Field:   path,
				Message: fmt.Sprintf("invalid YAML: %v", err),
			}
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &flowerrors.ValidationError{
				Field:      path,
				Message:    fmt.Sprintf("invalid JSON: %v", err),
				Suggestion: "check the exported workflow file for truncation",
			}
		}
	}

	return Parse(raw)
}

// Parse builds a Document from decoded workflow data. Blocks and edges
// accept both mapping and list shapes; malformed entries are skipped
// rather than failing the whole document.
func Parse(raw map[string]any) (*Document, error) {
	if raw == nil {
		return nil, &flowerrors.ValidationError{Message: "empty workflow document"}
	}

	// Editor exports wrap the graph in a state envelope.
	if state, ok := raw["state"].(map[string]any); ok {
		if _, hasBlocks := state["blocks"]; hasBlocks {
			raw = state
		}
	}

	doc := &Document{Blocks: map[string]*Block{}}

	switch blocks := raw["blocks"].(type) {
	case map[string]any:
		ids := make([]string, 0, len(blocks))
		for id := range blocks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if data, ok := blocks[id].(map[string]any); ok {
				doc.addBlock(parseBlock(id, data))
			}
		}
	case []any:
		for i, entry := range blocks {
			data, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			id := stringField(data, "id")
			if id == "" {
				id = fmt.Sprintf("block_%d", i)
			}
			doc.addBlock(parseBlock(id, data))
		}
	default:
		return nil, &flowerrors.ValidationError{
			Field:   "blocks",
			Message: "workflow document has no blocks",
		}
	}

	doc.Edges = parseEdges(raw["edges"])
	return doc, nil
}

func (d *Document) addBlock(b *Block) {
	if _, exists := d.Blocks[b.ID]; exists {
		return
	}
	d.Blocks[b.ID] = b
	d.Order = append(d.Order, b.ID)
}

func parseBlock(id string, data map[string]any) *Block {
	b := &Block{
		ID:     id,
		Name:   stringField(data, "name"),
		Type:   stringField(data, "type"),
		Inputs: map[string]any{},
	}
	if b.Name == "" {
		b.Name = id
	}
	if b.Type == "" {
		b.Type = "generic"
	}

	b.ParentID = stringField(data, "parentId")
	if b.ParentID == "" {
		if inner, ok := data["data"].(map[string]any); ok {
			b.ParentID = stringField(inner, "parentId")
		}
	}

	if inputs, ok := data["inputs"].(map[string]any); ok {
		for k, v := range inputs {
			b.Inputs[k] = v
		}
	} else if sub, ok := data["subBlocks"].(map[string]any); ok {
		flattenSubBlocks(sub, b.Inputs)
	}

	if outputs, ok := data["outputs"].(map[string]any); ok {
		b.Outputs = outputs
	}
	return b
}

// flattenSubBlocks lifts editor sub-block values into plain inputs.
// A value that is a list of {content: ...} objects (chat message rows)
// is joined into a single newline-separated string.
func flattenSubBlocks(sub map[string]any, into map[string]any) {
	for name, entry := range sub {
		cfg, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		value, ok := cfg["value"]
		if !ok {
			continue
		}
		if rows, ok := value.([]any); ok && len(rows) > 0 {
			if contents, ok := messageContents(rows); ok {
				into[name] = strings.Join(contents, "\n")
				continue
			}
		}
		into[name] = value
	}
}

func messageContents(rows []any) ([]string, bool) {
	contents := make([]string, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			return nil, false
		}
		content, ok := m["content"].(string)
		if !ok {
			return nil, false
		}
		contents = append(contents, content)
	}
	return contents, true
}

func parseEdges(raw any) []Edge {
	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		ids := make([]string, 0, len(v))
		for id := range v {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			entries = append(entries, v[id])
		}
	default:
		return nil
	}

	edges := make([]Edge, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		source := stringField(m, "source")
		if source == "" {
			source = stringField(m, "from")
		}
		target := stringField(m, "target")
		if target == "" {
			target = stringField(m, "to")
		}
		if source == "" || target == "" {
			continue
		}
		edges = append(edges, Edge{
			Source:       source,
			Target:       target,
			SourceHandle: stringField(m, "sourceHandle"),
		})
	}
	return edges
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// ChildrenOf returns ids of blocks whose parent is the given loop block,
// in document order.
func (d *Document) ChildrenOf(loopID string) []string {
	var children []string
	for _, id := range d.Order {
		if d.Blocks[id].ParentID == loopID {
			children = append(children, id)
		}
	}
	return children
}

// TopLevel returns ids of blocks that are not children of a loop
// container, in document order. A parentId that names a missing or
// non-loop block does not demote the child.
func (d *Document) TopLevel() []string {
	var top []string
	for _, id := range d.Order {
		parent, ok := d.Blocks[d.Blocks[id].ParentID]
		if ok && isLoopType(parent.Type) {
			continue
		}
		top = append(top, id)
	}
	return top
}
