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
	"strings"
	"time"
)

// BlockLog records one block execution for the run transcript.
type BlockLog struct {
	BlockID   string `json:"blockId"`
	BlockName string `json:"blockName"`
	BlockType string `json:"blockType"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt"`
	Success   bool   `json:"success"`
	Output    any    `json:"output"`
}

// LoopState tracks progress of one loop container during a run.
type LoopState struct {
	Type       string
	Iterations int
	Items      []any
	Condition  string
	Index      int
	Results    []any
}

// CurrentItem returns the item for the current iteration, nil when the
// loop has no item collection or the index is out of range.
func (s *LoopState) CurrentItem() any {
	if s.Index >= 0 && s.Index < len(s.Items) {
		return s.Items[s.Index]
	}
	return nil
}

// ExecutionContext carries all mutable state for a single workflow run.
// It is not safe for concurrent use; each run owns its own context.
type ExecutionContext struct {
	Inputs     map[string]any
	Variables  map[string]any
	Outputs    map[string]any
	Logs       []BlockLog
	LoopStates map[string]*LoopState

	// CurrentLoopID names the loop whose children are executing, empty
	// at the top level.
	CurrentLoopID string

	RunID string
}

// NewExecutionContext creates a run context. Nil maps are replaced with
// empty ones so handlers never need nil checks.
func NewExecutionContext(inputs, variables map[string]any) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}
	if variables == nil {
		variables = map[string]any{}
	}
	return &ExecutionContext{
		Inputs:     inputs,
		Variables:  variables,
		Outputs:    map[string]any{},
		LoopStates: map[string]*LoopState{},
	}
}

// NormalizeName maps a block display name to its canonical output key:
// lowercase with spaces collapsed to underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// StoreOutput records a block output under both the raw block name and
// its normalized key, so references work with either spelling.
func (ec *ExecutionContext) StoreOutput(name string, value any) {
	ec.Outputs[name] = value
	ec.Outputs[NormalizeName(name)] = value
}

// Lookup finds a stored block output, preferring the normalized key.
func (ec *ExecutionContext) Lookup(name string) (any, bool) {
	if v, ok := ec.Outputs[NormalizeName(name)]; ok {
		return v, true
	}
	v, ok := ec.Outputs[name]
	return v, ok
}

// CurrentLoop returns the state of the loop currently executing, or nil
// at the top level.
func (ec *ExecutionContext) CurrentLoop() *LoopState {
	if ec.CurrentLoopID == "" {
		return nil
	}
	return ec.LoopStates[ec.CurrentLoopID]
}

// AppendLog adds a block execution record to the run transcript.
func (ec *ExecutionContext) AppendLog(entry BlockLog) {
	ec.Logs = append(ec.Logs, entry)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
