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

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

const commandTimeout = 300 * time.Second

// Shell metacharacters that would allow redirection, chaining or
// substitution. Commands run without a shell, but these are rejected
// outright so a rejected command fails loudly instead of behaving
// differently than the model expected.
var dangerousSequences = []string{"|", ">", "<", "&&", "||", ";", "`", "$(", "${", "$"}

// ExecuteCommand runs a command inside the workspace with a hard
// timeout. No shell is involved; the command line is tokenized and
// executed directly.
func (w *Workspace) ExecuteCommand(ctx context.Context, command string) map[string]any {
	if !w.allowCommands {
		return failuref("Command execution is disabled")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return failuref("empty command")
	}
	for _, seq := range dangerousSequences {
		if strings.Contains(command, seq) {
			return failuref("command contains disallowed sequence %q", seq)
		}
	}

	args, err := shellquote.Split(command)
	if err != nil {
		return failuref("invalid command syntax: %v", err)
	}
	if len(args) == 0 {
		return failuref("empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = w.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return failuref("Command timed out after %ds", int(commandTimeout.Seconds()))
	}

	returncode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			returncode = exitErr.ExitCode()
		} else {
			return failuref("command failed to start: %v", err)
		}
	}

	return map[string]any{
		"success":    returncode == 0,
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": returncode,
	}
}

// Execute dispatches a native tool call by short name. Unknown names
// and missing arguments come back as soft failures in the result map.
func (w *Workspace) Execute(ctx context.Context, name string, args map[string]any) map[string]any {
	str := func(key string) string {
		s, _ := args[key].(string)
		return s
	}
	switch name {
	case "write_file":
		return w.WriteFile(str("path"), str("content"))
	case "write_bytes":
		return w.WriteBytes(str("path"), str("content_base64"))
	case "append_file":
		return w.AppendFile(str("path"), str("content"))
	case "read_file":
		return w.ReadFile(str("path"))
	case "read_bytes":
		return w.ReadBytes(str("path"))
	case "delete_file":
		return w.DeleteFile(str("path"))
	case "list_directory":
		return w.ListDirectory(str("path"))
	case "execute_command":
		return w.ExecuteCommand(ctx, str("command"))
	}
	return failuref("unknown tool: %s", name)
}
