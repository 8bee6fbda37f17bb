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

// Package config loads runtime configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	flowerrors "github.com/tobyhaynes/flowrun/pkg/errors"
	"github.com/tobyhaynes/flowrun/pkg/llm"
)

const (
	defaultAddr            = ":8080"
	defaultWorkflowPath    = "workflow.json"
	defaultWorkspaceDir    = "./workspace"
	defaultMaxRequestSize  = 10 * 1024 * 1024
	defaultMaxFileSize     = 100 * 1024 * 1024
	defaultRateLimitCount  = 60
	defaultRateLimitWindow = 60 * time.Second

	// workflowVarPrefix marks environment variables that seed workflow
	// variables, e.g. WORKFLOW_VAR_region=eu-west-1.
	workflowVarPrefix = "WORKFLOW_VAR_"
)

// Config is the full runtime configuration.
type Config struct {
	Addr         string
	WorkflowPath string

	MaxRequestSize    int64
	RateLimitRequests int
	RateLimitWindow   time.Duration

	WorkspaceDir           string
	EnableCommandExecution bool
	MaxFileSize            int64
}

// Load reads .env files and the environment. Missing .env files are
// fine; .env.local wins over .env.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{
		Addr:         envString("FLOWRUN_ADDR", defaultAddr),
		WorkflowPath: envString("WORKFLOW_PATH", defaultWorkflowPath),
		WorkspaceDir: envString("WORKSPACE_DIR", defaultWorkspaceDir),
	}

	var err error
	if cfg.MaxRequestSize, err = envInt64("MAX_REQUEST_SIZE", defaultMaxRequestSize); err != nil {
		return nil, err
	}
	if cfg.MaxFileSize, err = envInt64("MAX_FILE_SIZE", defaultMaxFileSize); err != nil {
		return nil, err
	}

	requests, err := envInt64("RATE_LIMIT_REQUESTS", defaultRateLimitCount)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitRequests = int(requests)

	windowSeconds, err := envInt64("RATE_LIMIT_WINDOW", int64(defaultRateLimitWindow/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.RateLimitWindow = time.Duration(windowSeconds) * time.Second

	cfg.EnableCommandExecution = envBool("ENABLE_COMMAND_EXECUTION")
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, &flowerrors.ConfigError{
			Key:        key,
			Message:    fmt.Sprintf("expected a positive integer, got %q", raw),
			Suggestion: fmt.Sprintf("unset %s to use the default %d", key, fallback),
		}
	}
	return v, nil
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// SeedVariables collects WORKFLOW_VAR_* environment variables as
// initial workflow variables. Values that parse as JSON keep their
// parsed type; everything else stays a string.
func (c *Config) SeedVariables() map[string]any {
	variables := map[string]any{}
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, workflowVarPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, workflowVarPrefix)
		if name == "" {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			variables[name] = parsed
		} else {
			variables[name] = value
		}
	}
	return variables
}

// providerKeyVars is the set of API key variables checked by
// environment validation.
var providerKeyVars = []string{
	llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGoogle,
	llm.ProviderAzure, llm.ProviderXAI, llm.ProviderDeepSeek,
	llm.ProviderMistral, llm.ProviderCerebras, llm.ProviderGroq,
	llm.ProviderOpenRouter,
}

// Warnings reports non-fatal configuration problems for the health
// endpoint: missing workflow file, no provider keys, placeholder keys.
func (c *Config) Warnings() []string {
	var warnings []string

	if _, err := os.Stat(c.WorkflowPath); err != nil {
		warnings = append(warnings, fmt.Sprintf("workflow file not found: %s", c.WorkflowPath))
	}

	anyKey := false
	for _, provider := range providerKeyVars {
		key := llm.APIKeyFromEnv(provider)
		if key == "" {
			continue
		}
		anyKey = true
		if strings.Contains(strings.ToLower(key), "your-") || key == "changeme" {
			warnings = append(warnings, fmt.Sprintf("%s API key looks like a placeholder", provider))
		}
	}
	if !anyKey {
		warnings = append(warnings, "no LLM provider API keys configured; agent blocks will fail")
	}
	return warnings
}
