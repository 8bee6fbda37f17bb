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

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectProvider(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"gpt-4o", ProviderOpenAI},
		{"gpt-4o-mini", ProviderOpenAI},
		{"o1", ProviderOpenAI},
		{"o1-preview", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"o4-mini", ProviderOpenAI},
		{"gemini-2.0-flash", ProviderGoogle},
		{"grok-3", ProviderXAI},
		{"deepseek-chat", ProviderDeepSeek},
		{"mistral-large-latest", ProviderMistral},
		{"mixtral-8x7b", ProviderMistral},
		{"codestral-latest", ProviderMistral},
		{"pixtral-12b", ProviderMistral},

		// Explicit prefixes win over family names.
		{"azure/gpt-4o", ProviderAzure},
		{"vertex/gemini-2.0-flash", ProviderGoogle},
		{"openrouter/anthropic/claude-sonnet-4", ProviderOpenRouter},
		{"cerebras/llama-3.3-70b", ProviderCerebras},
		{"groq/llama-3.1-8b-instant", ProviderGroq},
		{"ollama/llama3", ProviderOllama},
		{"vllm/meta-llama/Llama-3-8B", ProviderVLLM},

		// Unknown models default to openai.
		{"llama-3.3-70b", ProviderOpenAI},
		{"", ProviderOpenAI},

		// Case and whitespace do not matter.
		{"  Claude-Opus-4  ", ProviderAnthropic},
		{"GPT-4O", ProviderOpenAI},

		// "o" matching is anchored, not a substring scan.
		{"olmo-7b", ProviderOpenAI},
		{"command-r", ProviderOpenAI},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectProvider(tc.model), tc.model)
	}
}

func TestStripProviderPrefix(t *testing.T) {
	assert.Equal(t, "gpt-4o", StripProviderPrefix("azure/gpt-4o"))
	assert.Equal(t, "llama3", StripProviderPrefix("ollama/llama3"))
	assert.Equal(t, "anthropic/claude-sonnet-4", StripProviderPrefix("openrouter/anthropic/claude-sonnet-4"))

	// Unknown prefixes are part of the model name.
	assert.Equal(t, "meta-llama/Llama-3-8B", StripProviderPrefix("meta-llama/Llama-3-8B"))
	assert.Equal(t, "gpt-4o", StripProviderPrefix("gpt-4o"))
}

func TestRequiresAPIKey(t *testing.T) {
	assert.True(t, RequiresAPIKey(ProviderAnthropic))
	assert.True(t, RequiresAPIKey(ProviderOpenAI))
	assert.False(t, RequiresAPIKey(ProviderOllama))
	assert.False(t, RequiresAPIKey(ProviderVLLM))
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	assert.Equal(t, "gem-key", APIKeyFromEnv(ProviderGoogle))

	t.Setenv("GOOGLE_API_KEY", "goog-key")
	assert.Equal(t, "goog-key", APIKeyFromEnv(ProviderGoogle))
}

func TestBaseURLFor(t *testing.T) {
	url, err := baseURLFor(ProviderGroq)
	assert.NoError(t, err)
	assert.Equal(t, "https://api.groq.com/openai/v1", url)

	t.Setenv("OLLAMA_URL", "")
	url, err = baseURLFor(ProviderOllama)
	assert.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", url)

	t.Setenv("OLLAMA_URL", "http://gpu-box:11434/")
	url, err = baseURLFor(ProviderOllama)
	assert.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434/v1", url)

	t.Setenv("VLLM_BASE_URL", "")
	_, err = baseURLFor(ProviderVLLM)
	assert.Error(t, err)
}
