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

package tools

import "github.com/tobyhaynes/flowrun/pkg/llm"

// LocalPrefix namespaces native tools when exposed to the model, so
// they never collide with MCP tool names.
const LocalPrefix = "local_"

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Definitions returns the native tool declarations offered to the
// model, namespaced with the local_ prefix. execute_command is only
// included when the workspace allows it.
func (w *Workspace) Definitions() []llm.Tool {
	pathProp := map[string]any{"type": "string", "description": "Path relative to the workspace root"}

	defs := []llm.Tool{
		{
			Name:        LocalPrefix + "write_file",
			Description: "Write a text file in the workspace, creating parent directories as needed.",
			InputSchema: objectSchema([]string{"path", "content"}, map[string]any{
				"path":    pathProp,
				"content": map[string]any{"type": "string", "description": "Text content to write"},
			}),
		},
		{
			Name:        LocalPrefix + "write_bytes",
			Description: "Write binary content to a file in the workspace. Content must be base64-encoded.",
			InputSchema: objectSchema([]string{"path", "content_base64"}, map[string]any{
				"path":           pathProp,
				"content_base64": map[string]any{"type": "string", "description": "Base64-encoded content"},
			}),
		},
		{
			Name:        LocalPrefix + "append_file",
			Description: "Append text to a file in the workspace, creating it if missing.",
			InputSchema: objectSchema([]string{"path", "content"}, map[string]any{
				"path":    pathProp,
				"content": map[string]any{"type": "string", "description": "Text content to append"},
			}),
		},
		{
			Name:        LocalPrefix + "read_file",
			Description: "Read a text file from the workspace.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{"path": pathProp}),
		},
		{
			Name:        LocalPrefix + "read_bytes",
			Description: "Read a file from the workspace as base64-encoded bytes.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{"path": pathProp}),
		},
		{
			Name:        LocalPrefix + "delete_file",
			Description: "Delete a file from the workspace.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{"path": pathProp}),
		},
		{
			Name:        LocalPrefix + "list_directory",
			Description: "List the contents of a workspace directory.",
			InputSchema: objectSchema(nil, map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory path, defaults to the workspace root"},
			}),
		},
	}

	if w.allowCommands {
		defs = append(defs, llm.Tool{
			Name:        LocalPrefix + "execute_command",
			Description: "Run a command in the workspace. No shell features: pipes, redirection and substitution are rejected.",
			InputSchema: objectSchema([]string{"command"}, map[string]any{
				"command": map[string]any{"type": "string", "description": "Command line to execute"},
			}),
		})
	}
	return defs
}
