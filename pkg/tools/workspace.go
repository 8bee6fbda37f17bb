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

// Package tools implements the native tools exposed to agent blocks:
// sandboxed file operations and guarded command execution, all rooted
// in a single workspace directory.
package tools

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultMaxFileSize = 100 * 1024 * 1024

// Config controls workspace construction.
type Config struct {
	// Root is the sandbox directory. Created if missing.
	Root string

	// MaxFileSize caps file reads and writes in bytes.
	MaxFileSize int64

	// AllowCommands enables the execute_command tool.
	AllowCommands bool
}

// Workspace is a filesystem sandbox. Every path argument is resolved
// relative to the root and must stay inside it.
type Workspace struct {
	root          string
	maxFileSize   int64
	allowCommands bool
}

// NewWorkspace creates the workspace directory and returns the sandbox.
func NewWorkspace(cfg Config) (*Workspace, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}
	return &Workspace{
		root:          root,
		maxFileSize:   maxSize,
		allowCommands: cfg.AllowCommands,
	}, nil
}

// Root returns the absolute sandbox directory.
func (w *Workspace) Root() string { return w.root }

// CommandsEnabled reports whether execute_command is available.
func (w *Workspace) CommandsEnabled() bool { return w.allowCommands }

// Info summarizes the workspace for health reporting.
func (w *Workspace) Info() map[string]any {
	writable := true
	probe := filepath.Join(w.root, ".write-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		writable = false
	} else {
		os.Remove(probe)
	}
	return map[string]any{
		"path":     w.root,
		"writable": writable,
	}
}

// safePath resolves a relative path inside the sandbox. Absolute paths
// and traversal outside the root are rejected.
func (w *Workspace) safePath(rel string) (string, error) {
	joined := filepath.Join(w.root, rel)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("Path escapes sandbox: %s", rel)
	}
	inside, err := filepath.Rel(w.root, abs)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("Path escapes sandbox: %s", rel)
	}
	return abs, nil
}

func failure(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}

func failuref(format string, args ...any) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf(format, args...)}
}

// WriteFile writes text content to a file, creating parent directories.
func (w *Workspace) WriteFile(path, content string) map[string]any {
	return w.writeBytes(path, []byte(content), false)
}

// WriteBytes writes base64-encoded binary content to a file.
func (w *Workspace) WriteBytes(path, contentBase64 string) map[string]any {
	data, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return failuref("invalid base64 content: %v", err)
	}
	return w.writeBytes(path, data, false)
}

// AppendFile appends text content to a file, creating it if missing.
func (w *Workspace) AppendFile(path, content string) map[string]any {
	return w.writeBytes(path, []byte(content), true)
}

func (w *Workspace) writeBytes(path string, data []byte, appendMode bool) map[string]any {
	abs, err := w.safePath(path)
	if err != nil {
		return failure(err)
	}
	if int64(len(data)) > w.maxFileSize {
		return failuref("content size %d exceeds limit %d", len(data), w.maxFileSize)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return failuref("create parent directory: %v", err)
	}

	if appendMode {
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return failuref("open file: %v", err)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return failuref("append to file: %v", err)
		}
	} else if err := os.WriteFile(abs, data, 0o644); err != nil {
		return failuref("write file: %v", err)
	}

	info, err := os.Stat(abs)
	size := int64(len(data))
	if err == nil {
		size = info.Size()
	}
	return map[string]any{
		"success":       true,
		"path":          path,
		"absolute_path": abs,
		"size":          size,
	}
}

// ReadFile reads a file as text.
func (w *Workspace) ReadFile(path string) map[string]any {
	data, result := w.readBytes(path)
	if result != nil {
		return result
	}
	return map[string]any{
		"success": true,
		"path":    path,
		"content": string(data),
		"size":    int64(len(data)),
	}
}

// ReadBytes reads a file and returns its content base64-encoded.
func (w *Workspace) ReadBytes(path string) map[string]any {
	data, result := w.readBytes(path)
	if result != nil {
		return result
	}
	return map[string]any{
		"success":        true,
		"path":           path,
		"content_base64": base64.StdEncoding.EncodeToString(data),
		"size":           int64(len(data)),
	}
}

func (w *Workspace) readBytes(path string) ([]byte, map[string]any) {
	abs, err := w.safePath(path)
	if err != nil {
		return nil, failure(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, failuref("file not found: %s", path)
	}
	if info.IsDir() {
		return nil, failuref("%s is a directory", path)
	}
	if info.Size() > w.maxFileSize {
		return nil, failuref("file size %d exceeds limit %d", info.Size(), w.maxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, failuref("read file: %v", err)
	}
	return data, nil
}

// DeleteFile removes a file or an empty directory.
func (w *Workspace) DeleteFile(path string) map[string]any {
	abs, err := w.safePath(path)
	if err != nil {
		return failure(err)
	}
	if abs == w.root {
		return failuref("refusing to delete workspace root")
	}
	if _, err := os.Stat(abs); err != nil {
		return failuref("file not found: %s", path)
	}
	if err := os.Remove(abs); err != nil {
		return failuref("delete: %v", err)
	}
	return map[string]any{
		"success": true,
		"path":    path,
		"deleted": true,
	}
}

// ListDirectory lists entries of a directory inside the sandbox.
func (w *Workspace) ListDirectory(path string) map[string]any {
	if path == "" {
		path = "."
	}
	abs, err := w.safePath(path)
	if err != nil {
		return failure(err)
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return failuref("list directory: %v", err)
	}

	entries := make([]any, 0, len(dirEntries))
	names := make([]string, 0, len(dirEntries))
	byName := make(map[string]os.DirEntry, len(dirEntries))
	for _, e := range dirEntries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)
	for _, name := range names {
		e := byName[name]
		entryType := "file"
		var size int64
		if e.IsDir() {
			entryType = "directory"
		} else if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		entries = append(entries, map[string]any{
			"name": name,
			"type": entryType,
			"size": size,
		})
	}
	return map[string]any{
		"success": true,
		"path":    path,
		"entries": entries,
		"count":   len(entries),
	}
}
