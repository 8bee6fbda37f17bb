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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tobyhaynes/flowrun/pkg/workflow/expression"
)

const defaultAPITimeout = 30 * time.Second

// APIHandler performs outbound HTTP requests for api blocks.
type APIHandler struct {
	client *http.Client
}

func (h *APIHandler) Handles(blockType string) bool {
	return typeIn(blockType, "api", "http", "request", "webhook")
}

func (h *APIHandler) Execute(ctx context.Context, _ *ExecutionContext, _ *Block, inputs map[string]any) (any, error) {
	rawURL, _ := inputs["url"].(string)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("api block requires a url")
	}

	method := strings.ToUpper(strings.TrimSpace(stringField(inputs, "method")))
	if method == "" {
		method = http.MethodGet
	}

	timeout := defaultAPITimeout
	if seconds, ok := numberValue(inputs["timeout"]); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	if params, ok := inputs["params"].(map[string]any); ok && len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, expression.Stringify(v))
		}
		separator := "?"
		if strings.Contains(rawURL, "?") {
			separator = "&"
		}
		rawURL += separator + query.Encode()
	}

	headers := parseHeaderRows(inputs["headers"])

	var bodyReader io.Reader
	hasBody := false
	if body, ok := inputs["body"]; ok && body != nil {
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if s, isString := body.(string); isString {
				bodyReader = strings.NewReader(s)
			} else {
				encoded, err := json.Marshal(body)
				if err != nil {
					return nil, fmt.Errorf("encode request body: %w", err)
				}
				bodyReader = bytes.NewReader(encoded)
			}
			hasBody = true
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, expression.Stringify(v))
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyRequestError(err, timeout)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var data any = string(respBody)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			data = parsed
		}
	}

	// Overloaded-service responses become errors so the executor's
	// retry path can take over.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("HTTP %d %s from %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL)
	}

	respHeaders := map[string]any{}
	for name := range resp.Header {
		respHeaders[strings.ToLower(name)] = resp.Header.Get(name)
	}

	return map[string]any{
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"headers":    respHeaders,
		"data":       data,
		"ok":         resp.StatusCode >= 200 && resp.StatusCode < 300,
		"url":        rawURL,
	}, nil
}

func classifyRequestError(err error, timeout time.Duration) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("Request timed out after %s (timeout)", formatSeconds(timeout))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("Request timed out after %s (timeout)", formatSeconds(timeout))
	}
	return fmt.Errorf("Connection failed: %v", err)
}

func formatSeconds(d time.Duration) string {
	return expression.FormatNumber(d.Seconds()) + "s"
}
