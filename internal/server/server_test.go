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

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyhaynes/flowrun/internal/config"
)

const testWorkflow = `{
  "blocks": [
    {"id": "start", "name": "Start", "type": "start"},
    {"id": "out", "name": "Output", "type": "response",
     "inputs": {"data": {"greeting": "hello <start.name>"}}}
  ],
  "edges": [
    {"source": "start", "target": "out"}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.json")
	require.NoError(t, os.WriteFile(path, []byte(testWorkflow), 0o644))

	return &config.Config{
		Addr:              ":0",
		WorkflowPath:      path,
		WorkspaceDir:      filepath.Join(dir, "workspace"),
		MaxRequestSize:    10 * 1024 * 1024,
		MaxFileSize:       1024 * 1024,
		RateLimitRequests: 60,
		RateLimitWindow:   60 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	require.NoError(t, err)
	return s
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthHealthy(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-not-a-placeholder")

	s := newTestServer(t, testConfig(t))
	require.NoError(t, s.LoadWorkflow())

	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["workflow_loaded"])
	assert.Equal(t, true, body["workspace"].(map[string]any)["writable"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealthDegraded(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := testConfig(t)
	cfg.WorkflowPath = filepath.Join(t.TempDir(), "missing.json")
	s := newTestServer(t, cfg)

	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["workflow_loaded"])
	assert.NotEmpty(t, body["warnings"])
}

func TestHealthDegradedOnParseFailure(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-not-a-placeholder")

	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.WorkflowPath, []byte("{broken"), 0o644))
	s := newTestServer(t, cfg)
	require.Error(t, s.LoadWorkflow())

	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["workflow_loaded"])
	assert.NotEmpty(t, body["warnings"])
}

func TestReadyLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doRequest(s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ready"])

	require.NoError(t, s.LoadWorkflow())

	rec = doRequest(s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ready"])
}

func TestExecuteHappyPath(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	require.NoError(t, s.LoadWorkflow())

	rec := doRequest(s, http.MethodPost, "/execute", []byte(`{"name": "ada"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	output := body["output"].(map[string]any)
	data := output["data"].(map[string]any)
	assert.Equal(t, "hello ada", data["greeting"])
	assert.Len(t, body["logs"], 2)
}

func TestExecuteInputsEnvelope(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	require.NoError(t, s.LoadWorkflow())

	rec := doRequest(s, http.MethodPost, "/execute", []byte(`{"inputs": {"name": "bob"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	output := decodeBody(t, rec)["output"].(map[string]any)
	data := output["data"].(map[string]any)
	assert.Equal(t, "hello bob", data["greeting"])
}

func TestExecuteEmptyBody(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	require.NoError(t, s.LoadWorkflow())

	rec := doRequest(s, http.MethodPost, "/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestExecuteInvalidJSON(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	require.NoError(t, s.LoadWorkflow())

	rec := doRequest(s, http.MethodPost, "/execute", []byte("{broken"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteWithoutWorkflow(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := doRequest(s, http.MethodPost, "/execute", []byte(`{}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "No workflow loaded")
}

func TestRequestTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRequestSize = 64
	s := newTestServer(t, cfg)
	require.NoError(t, s.LoadWorkflow())

	payload := []byte(`{"padding": "` + strings.Repeat("x", 200) + `"}`)
	rec := doRequest(s, http.MethodPost, "/execute", payload)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Request body too large", body["error"])
	assert.EqualValues(t, 64, body["max_size"])
}

func TestRateLimitEnforced(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitRequests = 3
	s := newTestServer(t, cfg)
	require.NoError(t, s.LoadWorkflow())

	for i := 0; i < 3; i++ {
		rec := doRequest(s, http.MethodPost, "/execute", []byte(`{}`))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := doRequest(s, http.MethodPost, "/execute", []byte(`{}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	body := decodeBody(t, rec)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.NotZero(t, body["retry_after"])

	// Probes stay exempt.
	rec = doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitRequests = 1
	s := newTestServer(t, cfg)
	require.NoError(t, s.LoadWorkflow())

	first := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte(`{}`)))
	first.Header.Set("X-Forwarded-For", "203.0.113.10")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte(`{}`)))
	second.Header.Set("X-Forwarded-For", "203.0.113.10")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte(`{}`)))
	other.Header.Set("X-Forwarded-For", "203.0.113.99")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}
