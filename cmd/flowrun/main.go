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

// flowrun is the local CLI: run or validate a workflow file without
// starting the HTTP daemon.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tobyhaynes/flowrun/internal/config"
	"github.com/tobyhaynes/flowrun/internal/log"
	"github.com/tobyhaynes/flowrun/internal/mcp"
	"github.com/tobyhaynes/flowrun/pkg/httpclient"
	"github.com/tobyhaynes/flowrun/pkg/tools"
	"github.com/tobyhaynes/flowrun/pkg/workflow"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "flowrun",
		Short:         "Run exported workflows locally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		inputPairs []string
		inputJSON  string
		varPairs   []string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			doc, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}

			inputs, err := collectValues(inputPairs, inputJSON)
			if err != nil {
				return err
			}
			variables, err := collectValues(varPairs, "")
			if err != nil {
				return err
			}
			for name, value := range cfg.SeedVariables() {
				if _, set := variables[name]; !set {
					variables[name] = value
				}
			}

			workspace, err := tools.NewWorkspace(tools.Config{
				Root:          cfg.WorkspaceDir,
				MaxFileSize:   cfg.MaxFileSize,
				AllowCommands: cfg.EnableCommandExecution,
			})
			if err != nil {
				return err
			}

			executor := workflow.NewExecutor(doc).
				WithLogger(logger).
				WithHandlers(workflow.DefaultHandlers(workflow.Deps{
					HTTPClient: httpclient.New(httpclient.Config{}),
					Workspace:  workspace,
					MCP:        mcp.NewCaller(),
					Logger:     logger,
				}))

			result, err := executor.Run(cmd.Context(), inputs, variables)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "workflow input as key=value (repeatable)")
	cmd.Flags().StringVar(&inputJSON, "input-json", "", "workflow inputs as a JSON object")
	cmd.Flags().StringArrayVar(&varPairs, "var", nil, "workflow variable as key=value (repeatable)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Parse a workflow file and report its structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}

			typeCounts := map[string]int{}
			for _, block := range doc.Blocks {
				typeCounts[block.Type]++
			}

			fmt.Printf("%s: %d blocks, %d edges\n", args[0], len(doc.Blocks), len(doc.Edges))
			for blockType, count := range typeCounts {
				fmt.Printf("  %-12s %d\n", blockType, count)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flowrun %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}

// collectValues merges key=value pairs over an optional JSON object.
// Pair values that parse as JSON keep their parsed type.
func collectValues(pairs []string, jsonObject string) (map[string]any, error) {
	values := map[string]any{}
	if jsonObject != "" {
		if err := json.Unmarshal([]byte(jsonObject), &values); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			values[key] = parsed
		} else {
			values[key] = value
		}
	}
	return values, nil
}
