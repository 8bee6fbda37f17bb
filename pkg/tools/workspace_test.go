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
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T, cfg Config) *Workspace {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	w, err := NewWorkspace(cfg)
	require.NoError(t, err)
	return w
}

func TestSandboxEscapeRejected(t *testing.T) {
	w := newTestWorkspace(t, Config{})

	for _, path := range []string{
		"../outside.txt",
		"../../etc/passwd",
		"nested/../../outside.txt",
	} {
		result := w.WriteFile(path, "nope")
		assert.Equal(t, false, result["success"], path)
		assert.Contains(t, result["error"], "Path escapes sandbox", path)

		result = w.ReadFile(path)
		assert.Equal(t, false, result["success"], path)
	}
}

func TestAbsolutePathStaysInSandbox(t *testing.T) {
	w := newTestWorkspace(t, Config{})

	// filepath.Join flattens a leading separator into the root, so an
	// "absolute" argument still lands inside the sandbox.
	result := w.WriteFile("/abs.txt", "content")
	assert.Equal(t, true, result["success"])
	assert.Equal(t, filepath.Join(w.Root(), "abs.txt"), result["absolute_path"])
}

func TestWriteReadRoundTrip(t *testing.T) {
	w := newTestWorkspace(t, Config{})

	written := w.WriteFile("sub/dir/file.txt", "hello world")
	require.Equal(t, true, written["success"])
	assert.EqualValues(t, 11, written["size"])

	read := w.ReadFile("sub/dir/file.txt")
	require.Equal(t, true, read["success"])
	assert.Equal(t, "hello world", read["content"])
}

func TestAppendFile(t *testing.T) {
	w := newTestWorkspace(t, Config{})

	require.Equal(t, true, w.WriteFile("log.txt", "one\n")["success"])
	require.Equal(t, true, w.AppendFile("log.txt", "two\n")["success"])

	read := w.ReadFile("log.txt")
	assert.Equal(t, "one\ntwo\n", read["content"])

	// Append creates the file when missing.
	require.Equal(t, true, w.AppendFile("fresh.txt", "first")["success"])
	assert.Equal(t, "first", w.ReadFile("fresh.txt")["content"])
}

func TestBinaryRoundTrip(t *testing.T) {
	w := newTestWorkspace(t, Config{})

	raw := []byte{0x00, 0xff, 0x10, 0x80}
	encoded := base64.StdEncoding.EncodeToString(raw)

	written := w.WriteBytes("blob.bin", encoded)
	require.Equal(t, true, written["success"])

	read := w.ReadBytes("blob.bin")
	require.Equal(t, true, read["success"])
	assert.Equal(t, encoded, read["content_base64"])

	bad := w.WriteBytes("blob.bin", "not base64!!!")
	assert.Equal(t, false, bad["success"])
}

func TestFileSizeLimit(t *testing.T) {
	w := newTestWorkspace(t, Config{MaxFileSize: 16})

	ok := w.WriteFile("small.txt", "fits")
	assert.Equal(t, true, ok["success"])

	tooBig := w.WriteFile("big.txt", strings.Repeat("x", 17))
	assert.Equal(t, false, tooBig["success"])
	assert.Contains(t, tooBig["error"], "exceeds limit")
}

func TestDeleteFile(t *testing.T) {
	w := newTestWorkspace(t, Config{})
	require.Equal(t, true, w.WriteFile("gone.txt", "x")["success"])

	deleted := w.DeleteFile("gone.txt")
	assert.Equal(t, true, deleted["success"])

	missing := w.DeleteFile("gone.txt")
	assert.Equal(t, false, missing["success"])
	assert.Contains(t, missing["error"], "not found")

	root := w.DeleteFile(".")
	assert.Equal(t, false, root["success"])
}

func TestListDirectory(t *testing.T) {
	w := newTestWorkspace(t, Config{})
	require.Equal(t, true, w.WriteFile("b.txt", "bb")["success"])
	require.Equal(t, true, w.WriteFile("a.txt", "a")["success"])
	require.Equal(t, true, w.WriteFile("dir/inner.txt", "x")["success"])

	result := w.ListDirectory("")
	require.Equal(t, true, result["success"])
	assert.Equal(t, 3, result["count"])

	entries := result["entries"].([]any)
	first := entries[0].(map[string]any)
	assert.Equal(t, "a.txt", first["name"])
	assert.Equal(t, "file", first["type"])
	assert.EqualValues(t, 1, first["size"])

	last := entries[2].(map[string]any)
	assert.Equal(t, "dir", last["name"])
	assert.Equal(t, "directory", last["type"])
}

func TestExecuteCommandDisabled(t *testing.T) {
	w := newTestWorkspace(t, Config{})

	result := w.ExecuteCommand(t.Context(), "echo hi")
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "disabled")
}

func TestExecuteCommandRejectsShellMetacharacters(t *testing.T) {
	w := newTestWorkspace(t, Config{AllowCommands: true})

	for _, command := range []string{
		"cat /etc/passwd | grep root",
		"echo hi > out.txt",
		"true && rm -rf .",
		"echo `whoami`",
		"echo $(whoami)",
		"echo hi; echo bye",
	} {
		result := w.ExecuteCommand(t.Context(), command)
		assert.Equal(t, false, result["success"], command)
		assert.Contains(t, result["error"], "disallowed sequence", command)
	}
}

func TestExecuteCommandSuccess(t *testing.T) {
	w := newTestWorkspace(t, Config{AllowCommands: true})

	result := w.ExecuteCommand(t.Context(), "echo hello")
	require.Equal(t, true, result["success"])
	assert.Equal(t, "hello\n", result["stdout"])
	assert.Equal(t, 0, result["returncode"])
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	w := newTestWorkspace(t, Config{AllowCommands: true})

	result := w.ExecuteCommand(t.Context(), "false")
	assert.Equal(t, false, result["success"])
	assert.Equal(t, 1, result["returncode"])
}

func TestExecuteCommandRunsInWorkspace(t *testing.T) {
	w := newTestWorkspace(t, Config{AllowCommands: true})
	require.Equal(t, true, w.WriteFile("marker.txt", "x")["success"])

	result := w.ExecuteCommand(t.Context(), "ls")
	require.Equal(t, true, result["success"])
	assert.Contains(t, result["stdout"], "marker.txt")
}

func TestRegistryDispatch(t *testing.T) {
	w := newTestWorkspace(t, Config{})

	defs := w.Definitions()
	for _, def := range defs {
		assert.True(t, strings.HasPrefix(def.Name, LocalPrefix))
		assert.NotEqual(t, LocalPrefix+"execute_command", def.Name)
	}

	allowed := newTestWorkspace(t, Config{AllowCommands: true})
	names := make([]string, 0, len(allowed.Definitions()))
	for _, def := range allowed.Definitions() {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, LocalPrefix+"execute_command")

	result := w.Execute(t.Context(), "write_file", map[string]any{
		"path":    "via.txt",
		"content": "dispatched",
	})
	assert.Equal(t, true, result["success"])

	unknown := w.Execute(t.Context(), "no_such", nil)
	assert.Equal(t, false, unknown["success"])
}
