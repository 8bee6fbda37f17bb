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
	"fmt"
	"os"
	"regexp"
	"strings"

	flowerrors "github.com/tobyhaynes/flowrun/pkg/errors"
)

// Provider names. These double as the explicit model prefixes users can
// write, e.g. "groq/llama-3.3-70b".
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
	ProviderAzure      = "azure"
	ProviderXAI        = "xai"
	ProviderDeepSeek   = "deepseek"
	ProviderMistral    = "mistral"
	ProviderCerebras   = "cerebras"
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderVLLM       = "vllm"
)

var explicitPrefixes = map[string]string{
	"azure":      ProviderAzure,
	"vertex":     ProviderGoogle,
	"openrouter": ProviderOpenRouter,
	"cerebras":   ProviderCerebras,
	"groq":       ProviderGroq,
	"vllm":       ProviderVLLM,
	"ollama":     ProviderOllama,
}

var openAIReasoningPattern = regexp.MustCompile(`^o[134](-|$)`)

var mistralFamilies = []string{
	"mistral", "mixtral", "ministral", "codestral", "magistral", "devstral", "pixtral",
}

// DetectProvider classifies a model name into a provider. Explicit
// "provider/" prefixes win; otherwise well-known model family names are
// matched, falling back to openai.
func DetectProvider(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))

	if prefix, _, ok := strings.Cut(m, "/"); ok {
		if provider, known := explicitPrefixes[prefix]; known {
			return provider
		}
	}

	switch {
	case strings.Contains(m, "claude"):
		return ProviderAnthropic
	case strings.Contains(m, "gpt"), openAIReasoningPattern.MatchString(m):
		return ProviderOpenAI
	case strings.Contains(m, "gemini"):
		return ProviderGoogle
	case strings.Contains(m, "grok"):
		return ProviderXAI
	case strings.Contains(m, "deepseek"):
		return ProviderDeepSeek
	}
	for _, family := range mistralFamilies {
		if strings.Contains(m, family) {
			return ProviderMistral
		}
	}
	return ProviderOpenAI
}

// StripProviderPrefix removes an explicit "provider/" prefix from a
// model name, leaving the name the provider API expects.
func StripProviderPrefix(model string) string {
	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		if _, known := explicitPrefixes[strings.ToLower(prefix)]; known {
			return rest
		}
	}
	return model
}

var apiKeyEnvVars = map[string][]string{
	ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	ProviderOpenAI:     {"OPENAI_API_KEY"},
	ProviderGoogle:     {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	ProviderAzure:      {"AZURE_OPENAI_API_KEY"},
	ProviderXAI:        {"XAI_API_KEY"},
	ProviderDeepSeek:   {"DEEPSEEK_API_KEY"},
	ProviderMistral:    {"MISTRAL_API_KEY"},
	ProviderCerebras:   {"CEREBRAS_API_KEY"},
	ProviderGroq:       {"GROQ_API_KEY"},
	ProviderOpenRouter: {"OPENROUTER_API_KEY"},
}

// APIKeyEnvVars returns the environment variables consulted for a
// provider's API key.
func APIKeyEnvVars(provider string) []string {
	return apiKeyEnvVars[provider]
}

// APIKeyFromEnv looks up a provider API key from the environment.
func APIKeyFromEnv(provider string) string {
	for _, name := range apiKeyEnvVars[provider] {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// RequiresAPIKey reports whether a provider needs an API key. Local
// inference servers do not.
func RequiresAPIKey(provider string) bool {
	switch provider {
	case ProviderOllama, ProviderVLLM:
		return false
	}
	return true
}

// baseURLFor returns the chat-completions base URL for an
// OpenAI-compatible provider.
func baseURLFor(provider string) (string, error) {
	switch provider {
	case ProviderOpenAI:
		return "https://api.openai.com/v1", nil
	case ProviderDeepSeek:
		return "https://api.deepseek.com/v1", nil
	case ProviderXAI:
		return "https://api.x.ai/v1", nil
	case ProviderCerebras:
		return "https://api.cerebras.ai/v1", nil
	case ProviderGroq:
		return "https://api.groq.com/openai/v1", nil
	case ProviderMistral:
		return "https://api.mistral.ai/v1", nil
	case ProviderOpenRouter:
		return "https://openrouter.ai/api/v1", nil
	case ProviderOllama:
		base := os.Getenv("OLLAMA_URL")
		if base == "" {
			base = "http://localhost:11434"
		}
		return strings.TrimSuffix(base, "/") + "/v1", nil
	case ProviderVLLM:
		base := os.Getenv("VLLM_BASE_URL")
		if base == "" {
			return "", &flowerrors.ConfigError{
				Key:        "VLLM_BASE_URL",
				Message:    "vllm provider requires VLLM_BASE_URL",
				Suggestion: "set VLLM_BASE_URL to your vLLM server, e.g. http://localhost:8000",
			}
		}
		return strings.TrimSuffix(base, "/") + "/v1", nil
	}
	return "", fmt.Errorf("no base URL for provider %q", provider)
}

// New builds a provider client for the given provider name. The apiKey
// may be empty for providers that do not require one.
func New(provider, apiKey string) (Provider, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropic(apiKey), nil
	case ProviderGoogle:
		return NewGoogle(apiKey), nil
	case ProviderAzure:
		return NewAzure(apiKey)
	default:
		baseURL, err := baseURLFor(provider)
		if err != nil {
			return nil, err
		}
		return NewOpenAICompatible(provider, baseURL, apiKey), nil
	}
}
