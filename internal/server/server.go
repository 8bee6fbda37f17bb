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

// Package server exposes the workflow runtime over HTTP: health and
// readiness probes, the execute endpoint, and Prometheus metrics,
// fronted by size and rate-limit admission control.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tobyhaynes/flowrun/internal/config"
	"github.com/tobyhaynes/flowrun/internal/mcp"
	"github.com/tobyhaynes/flowrun/internal/server/httputil"
	"github.com/tobyhaynes/flowrun/pkg/httpclient"
	"github.com/tobyhaynes/flowrun/pkg/tools"
	"github.com/tobyhaynes/flowrun/pkg/workflow"
)

// Server is the HTTP front end for a single bundled workflow.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	limiter   *RateLimiter
	metrics   *Metrics
	workspace *tools.Workspace

	doc     *workflow.Document
	loadErr error
	started time.Time
}

// New builds the server. The workflow itself is loaded separately with
// LoadWorkflow so a missing file degrades health instead of preventing
// startup.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	workspace, err := tools.NewWorkspace(tools.Config{
		Root:          cfg.WorkspaceDir,
		MaxFileSize:   cfg.MaxFileSize,
		AllowCommands: cfg.EnableCommandExecution,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize workspace: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		limiter:   NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		metrics:   NewMetrics(),
		workspace: workspace,
		started:   time.Now(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("POST /execute", s.handleExecute)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	return s, nil
}

// LoadWorkflow parses the configured workflow file. The error is kept
// for health reporting as well as returned.
func (s *Server) LoadWorkflow() error {
	doc, err := workflow.LoadFile(s.cfg.WorkflowPath)
	if err != nil {
		s.loadErr = err
		return err
	}
	s.doc = doc
	s.loadErr = nil
	s.logger.Info("workflow loaded",
		slog.String("path", s.cfg.WorkflowPath),
		slog.Int("blocks", len(doc.Blocks)),
		slog.Int("edges", len(doc.Edges)))
	return nil
}

// ServeHTTP applies admission control and request logging around the
// route mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	s.admit(recorder, r, func() {
		s.mux.ServeHTTP(recorder, r)
	})

	duration := time.Since(start)
	s.metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(recorder.status)).Inc()
	s.metrics.RequestDuration.WithLabelValues(r.URL.Path).Observe(duration.Seconds())
	s.logger.Info("request completed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", recorder.status),
		slog.Int64("duration_ms", duration.Milliseconds()))
}

// admit applies the size and rate-limit checks. Probe and metrics
// endpoints are exempt so orchestrators are never throttled.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, next func()) {
	switch r.URL.Path {
	case "/health", "/ready", "/metrics":
		next()
		return
	}

	if r.ContentLength > s.cfg.MaxRequestSize {
		s.metrics.RejectedSize.Inc()
		httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error":         "Request body too large",
			"max_size":      s.cfg.MaxRequestSize,
			"received_size": r.ContentLength,
		})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize)

	client := clientIP(r)
	if !s.limiter.Allow(client) {
		retryAfter := s.limiter.RetryAfter(client)
		s.metrics.RateLimited.Inc()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "Rate limit exceeded",
			"retry_after": retryAfter,
		})
		return
	}

	next()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	warnings := s.cfg.Warnings()
	if s.loadErr != nil {
		warnings = append(warnings, fmt.Sprintf("workflow failed to load: %v", s.loadErr))
	} else if s.doc == nil {
		warnings = append(warnings, "no workflow loaded")
	}
	status := "healthy"
	if len(warnings) > 0 || s.doc == nil {
		status = "degraded"
	}

	body := map[string]any{
		"status":          status,
		"workflow_loaded": s.doc != nil,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"workspace":       s.workspace.Info(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	if len(warnings) > 0 {
		body["warnings"] = warnings
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.doc == nil {
		reason := "no workflow loaded"
		if s.loadErr != nil {
			reason = s.loadErr.Error()
		}
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"reason": reason,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.doc == nil {
		s.metrics.ExecutionsTotal.WithLabelValues("no_workflow").Inc()
		httputil.WriteError(w, http.StatusInternalServerError, "No workflow loaded")
		return
	}

	inputs, err := decodeInputs(r.Body)
	if err != nil {
		s.metrics.ExecutionsTotal.WithLabelValues("bad_request").Inc()
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	// A fresh executor per request keeps runs fully isolated.
	executor := workflow.NewExecutor(s.doc).
		WithLogger(s.logger).
		WithHandlers(workflow.DefaultHandlers(workflow.Deps{
			HTTPClient: httpclient.New(httpclient.Config{}),
			Workspace:  s.workspace,
			MCP:        mcp.NewCaller(),
			Logger:     s.logger,
		}))

	result, err := executor.Run(r.Context(), inputs, s.cfg.SeedVariables())
	if err != nil {
		s.metrics.ExecutionsTotal.WithLabelValues("error").Inc()
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	s.metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	httputil.WriteJSON(w, http.StatusOK, result)
}

// decodeInputs reads the request body as the run inputs. An empty body
// means no inputs; a body of {"inputs": {...}} unwraps the envelope.
func decodeInputs(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if len(payload) == 1 {
		if inner, ok := payload["inputs"].(map[string]any); ok {
			return inner, nil
		}
	}
	return payload, nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
