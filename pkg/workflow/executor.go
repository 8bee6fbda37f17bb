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

// Package workflow implements the workflow graph runtime: document
// parsing, reference resolution, block handlers and the scheduler that
// drives them.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

const (
	// maxAttempts is the total number of tries for a failing block.
	maxAttempts = 3

	// maxLoopIterations is the hard cap on any loop, regardless of its
	// configured condition.
	maxLoopIterations = 1000
)

// transientMarkers identify retryable failures by error text. Matching
// is case-insensitive substring search.
var transientMarkers = []string{"timeout", "connection", "rate limit", "429", "503"}

// Result is the outcome of one workflow run.
type Result struct {
	Success bool       `json:"success"`
	Output  any        `json:"output"`
	Error   string     `json:"error,omitempty"`
	Logs    []BlockLog `json:"logs"`
}

// Executor runs a parsed workflow document. Build one per run surface;
// each Run gets its own ExecutionContext so executors are reusable.
type Executor struct {
	doc      *Document
	resolver *Resolver
	handlers []Handler
	eval     *expression.Evaluator
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor with default handlers.
func NewExecutor(doc *Document) *Executor {
	e := &Executor{
		doc:      doc,
		resolver: NewResolver(),
		eval:     expression.New(),
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	e.handlers = DefaultHandlers(Deps{Resolver: e.resolver, Eval: e.eval, Logger: e.logger})
	return e
}

// WithLogger sets the run logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithHandlers replaces the handler set.
func (e *Executor) WithHandlers(handlers []Handler) *Executor {
	e.handlers = handlers
	return e
}

// WithResolver replaces the reference resolver.
func (e *Executor) WithResolver(r *Resolver) *Executor {
	e.resolver = r
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes the workflow with the given inputs and variables.
func (e *Executor) Run(ctx context.Context, inputs, variables map[string]any) (*Result, error) {
	ec := NewExecutionContext(inputs, variables)
	ec.RunID = uuid.NewString()
	logger := e.logger.With(slog.String("run_id", ec.RunID))

	topLevel := e.doc.TopLevel()
	order := e.topoOrder(topLevel)
	logger.Info("starting workflow run",
		slog.Int("blocks", len(order)),
		slog.Int("total_blocks", len(e.doc.Blocks)))

	var lastOutput any = map[string]any{}
	var responseOutput any
	sawResponse := false

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return &Result{Success: false, Error: err.Error(), Logs: ec.Logs}, err
		}
		block := e.doc.Blocks[id]

		var output any
		if isLoopType(block.Type) {
			output = e.runLoop(ctx, ec, block)
		} else {
			output = e.executeBlock(ctx, ec, block)
		}
		lastOutput = output
		if isResponseType(block.Type) {
			responseOutput = output
			sawResponse = true
		}
	}

	final := lastOutput
	if sawResponse {
		final = responseOutput
	}
	logger.Info("workflow run finished", slog.Int("logged_blocks", len(ec.Logs)))
	return &Result{Success: true, Output: final, Logs: ec.Logs}, nil
}

// topoOrder computes a topological order over the given block ids using
// Kahn's algorithm, with document order breaking ties. Edges touching
// blocks outside the subset are ignored. Blocks caught in a cycle never
// reach in-degree zero and are silently dropped.
func (e *Executor) topoOrder(subset []string) []string {
	inSubset := make(map[string]bool, len(subset))
	for _, id := range subset {
		inSubset[id] = true
	}

	indegree := make(map[string]int, len(subset))
	adjacency := make(map[string][]string)
	for _, id := range subset {
		indegree[id] = 0
	}
	for _, edge := range e.doc.Edges {
		if !inSubset[edge.Source] || !inSubset[edge.Target] {
			continue
		}
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		indegree[edge.Target]++
	}

	order := make([]string, 0, len(subset))
	emitted := make(map[string]bool, len(subset))
	for len(order) < len(subset) {
		progressed := false
		for _, id := range subset {
			if emitted[id] || indegree[id] != 0 {
				continue
			}
			emitted[id] = true
			order = append(order, id)
			for _, next := range adjacency[id] {
				indegree[next]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return order
}

func (e *Executor) handlerFor(blockType string) Handler {
	for _, h := range e.handlers {
		if h.Handles(blockType) {
			return h
		}
	}
	return nil
}

// executeBlock runs a single block with retry, stores its output and
// appends a log record. Failures never abort the run; they are
// recorded in the block output instead.
func (e *Executor) executeBlock(ctx context.Context, ec *ExecutionContext, block *Block) any {
	started := time.Now()
	handler := e.handlerFor(block.Type)

	var output any
	success := true

	if handler == nil {
		output = map[string]any{
			"error": fmt.Sprintf("No handler for block type: %s", block.Type),
		}
		success = false
	} else {
		output, success = e.executeWithRetry(ctx, ec, block, handler)
	}

	ec.StoreOutput(block.Name, output)
	ec.AppendLog(BlockLog{
		BlockID:   block.ID,
		BlockName: block.Name,
		BlockType: block.Type,
		StartedAt: timestamp(started),
		EndedAt:   timestamp(time.Now()),
		Success:   success,
		Output:    output,
	})

	e.logger.Debug("block executed",
		slog.String("block", block.Name),
		slog.String("type", block.Type),
		slog.Bool("success", success),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()))
	return output
}

func (e *Executor) executeWithRetry(ctx context.Context, ec *ExecutionContext, block *Block, handler Handler) (any, bool) {
	for attempt := 0; ; attempt++ {
		resolved := e.resolveInputs(ec, block)

		output, err := handler.Execute(ctx, ec, block, resolved)
		if err == nil {
			return output, true
		}

		if isTransient(err) && attempt < maxAttempts-1 {
			delay := time.Duration(1<<attempt) * time.Second
			e.logger.Warn("block failed, retrying",
				slog.String("block", block.Name),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", delay),
				slog.String("error", err.Error()))
			if e.sleep(ctx, delay) != nil {
				return map[string]any{"error": ctx.Err().Error(), "retries": attempt}, false
			}
			continue
		}

		e.logger.Error("block failed",
			slog.String("block", block.Name),
			slog.String("error", err.Error()),
			slog.Int("retries", attempt))
		return map[string]any{"error": err.Error(), "retries": attempt}, false
	}
}

func (e *Executor) resolveInputs(ec *ExecutionContext, block *Block) map[string]any {
	resolved, ok := e.resolver.Resolve(block.Inputs, ec).(map[string]any)
	if !ok {
		resolved = map[string]any{}
	}
	return resolved
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
