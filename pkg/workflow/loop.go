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
	"log/slog"
	"sort"
	"time"

	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

const defaultLoopIterations = 10

// runLoop drives a loop container: it initializes the loop state from
// the block inputs, then re-runs the child sub-graph once per
// iteration until the continuation check fails or the hard cap hits.
func (e *Executor) runLoop(ctx context.Context, ec *ExecutionContext, block *Block) any {
	started := time.Now()

	resolved := e.resolveInputs(ec, block)
	state := newLoopState(resolved)

	previousLoopID := ec.CurrentLoopID
	ec.CurrentLoopID = block.ID
	ec.LoopStates[block.ID] = state
	defer func() { ec.CurrentLoopID = previousLoopID }()

	children := e.doc.ChildrenOf(block.ID)
	childOrder := e.topoOrder(children)

	for state.Index < maxLoopIterations && e.shouldContinue(state, ec) {
		if ctx.Err() != nil {
			break
		}
		iterationOutputs := map[string]any{}
		for _, childID := range childOrder {
			child := e.doc.Blocks[childID]
			iterationOutputs[child.Name] = e.executeBlock(ctx, ec, child)
		}
		state.Results = append(state.Results, iterationOutputs)
		state.Index++
	}

	output := map[string]any{
		"results":         state.Results,
		"totalIterations": state.Index,
		"status":          "completed",
	}
	ec.StoreOutput(block.Name, output)
	ec.AppendLog(BlockLog{
		BlockID:   block.ID,
		BlockName: block.Name,
		BlockType: block.Type,
		StartedAt: timestamp(started),
		EndedAt:   timestamp(time.Now()),
		Success:   true,
		Output:    output,
	})

	e.logger.Debug("loop finished",
		slog.String("block", block.Name),
		slog.Int("iterations", state.Index))
	return output
}

// newLoopState builds the initial loop state from resolved inputs.
func newLoopState(inputs map[string]any) *LoopState {
	state := &LoopState{
		Type:       "for",
		Iterations: defaultLoopIterations,
		Results:    []any{},
	}
	if t, ok := inputs["loopType"].(string); ok && t != "" {
		state.Type = t
	}
	if n, ok := numberValue(inputs["iterations"]); ok && n >= 0 {
		state.Iterations = int(n)
	}
	if state.Iterations > maxLoopIterations {
		state.Iterations = maxLoopIterations
	}

	// whileCondition and doWhileCondition are the canonical keys; a
	// doWhile loop falls back to whileCondition, and bare "condition"
	// is accepted for hand-written documents.
	state.Condition = stringField(inputs, "whileCondition")
	if isDoWhileType(state.Type) {
		if c := stringField(inputs, "doWhileCondition"); c != "" {
			state.Condition = c
		}
	}
	if state.Condition == "" {
		state.Condition = stringField(inputs, "condition")
	}

	collection := inputs["forEachItems"]
	if collection == nil {
		collection = inputs["collection"]
	}
	if collection == nil {
		collection = inputs["items"]
	}
	state.Items = resolveItems(collection)

	if state.Type == "forEach" || state.Type == "foreach" {
		state.Iterations = len(state.Items)
	}
	return state
}

// resolveItems normalizes a loop collection: lists pass through, maps
// become sorted [key, value] pairs, strings are parsed as JSON.
func resolveItems(collection any) []any {
	switch v := collection.(type) {
	case []any:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]any, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, []any{k, v[k]})
		}
		return pairs
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil
		}
		return resolveItems(parsed)
	default:
		return nil
	}
}

// shouldContinue decides whether the loop runs another iteration.
// doWhile always runs its first iteration; condition evaluation
// failures fall back to the iteration budget.
func (e *Executor) shouldContinue(state *LoopState, ec *ExecutionContext) bool {
	switch state.Type {
	case "forEach", "foreach":
		return state.Index < len(state.Items)
	case "while":
		return e.evaluateLoopCondition(state, ec)
	default:
		if isDoWhileType(state.Type) {
			if state.Index == 0 {
				return true
			}
			return e.evaluateLoopCondition(state, ec)
		}
		return state.Index < state.Iterations
	}
}

func (e *Executor) evaluateLoopCondition(state *LoopState, ec *ExecutionContext) bool {
	if state.Condition == "" {
		return state.Index < state.Iterations
	}
	src := expression.SubstituteLoop(state.Condition, state.Index, state.CurrentItem())
	result, err := e.eval.EvaluateBool(src, contextEnv(ec))
	if err != nil {
		return state.Index < state.Iterations
	}
	return result
}
