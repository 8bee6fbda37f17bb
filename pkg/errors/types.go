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

// Package errors defines typed errors used throughout flowrun.
// Each error type carries enough context to produce actionable messages
// without string matching on the caller side.
package errors

import "fmt"

// ValidationError indicates invalid user input, such as a malformed
// workflow document or a bad block configuration.
type ValidationError struct {
	Field      string
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error: %s", e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (suggestion: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError indicates a problem with runtime configuration.
type ConfigError struct {
	Key        string
	Message    string
	Suggestion string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Message)
	if e.Key != "" {
		msg = fmt.Sprintf("config error for %s: %s", e.Key, e.Message)
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (suggestion: %s)", e.Suggestion)
	}
	return msg
}

// ProviderError indicates a failure from an LLM provider API.
type ProviderError struct {
	Provider   string
	Code       string
	StatusCode int
	Message    string
	Suggestion string
	RequestID  string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s error", e.Provider)
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	msg += ": " + e.Message
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (suggestion: %s)", e.Suggestion)
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request ID: %s)", e.RequestID)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates an operation exceeded its time budget.
type TimeoutError struct {
	Operation string
	Duration  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s after %s", e.Operation, e.Duration)
}

// ToolError indicates a tool invocation failed before producing a result.
type ToolError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}
