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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyhaynes/flowrun/pkg/httpclient"
)

func newAPIHandler() *APIHandler {
	return &APIHandler{client: httpclient.New(httpclient.Config{})}
}

func runAPI(t *testing.T, inputs map[string]any) (any, error) {
	t.Helper()
	h := newAPIHandler()
	return h.Execute(context.Background(), NewExecutionContext(nil, nil), &Block{Type: "api"}, inputs)
}

func TestAPIGetJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [1, 2]}`))
	}))
	defer ts.Close()

	out, err := runAPI(t, map[string]any{
		"url":    ts.URL,
		"params": map[string]any{"page": float64(1)},
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, 200, result["status"])
	assert.Equal(t, "OK", result["statusText"])
	assert.Equal(t, true, result["ok"])
	data := result["data"].(map[string]any)
	assert.Len(t, data["items"], 2)
}

func TestAPIPostBodyAndHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "token-123", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "ada", payload["user"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer ts.Close()

	out, err := runAPI(t, map[string]any{
		"url":    ts.URL,
		"method": "post",
		"body":   map[string]any{"user": "ada"},
		"headers": []any{
			map[string]any{"cells": map[string]any{"Key": "Authorization", "Value": "token-123"}},
		},
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, 201, result["status"])
	assert.Equal(t, "created", result["data"])
}

func TestAPINonJSONBodyString(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "raw payload", string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	out, err := runAPI(t, map[string]any{
		"url":    ts.URL,
		"method": "PUT",
		"body":   "raw payload",
	})
	require.NoError(t, err)
	assert.Equal(t, 204, out.(map[string]any)["status"])
}

func TestAPIErrorStatusIsNotOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	out, err := runAPI(t, map[string]any{"url": ts.URL})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, 404, result["status"])
	assert.Equal(t, false, result["ok"])
}

func TestAPIOverloadedStatusReturnsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := runAPI(t, map[string]any{"url": ts.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestAPITimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer ts.Close()

	_, err := runAPI(t, map[string]any{
		"url":     ts.URL,
		"timeout": 0.05,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestAPIConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := runAPI(t, map[string]any{"url": url})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Connection failed")
}

func TestAPIMissingURL(t *testing.T) {
	_, err := runAPI(t, map[string]any{})
	assert.Error(t, err)
}
