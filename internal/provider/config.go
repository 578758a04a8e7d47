// Package provider constructs the chat model behind the generate endpoint.
// The retrieval engine itself never calls a chat model; this package exists
// so kbrag can answer questions grounded on retrieved passages with any of
// the supported eino backends: Ollama, OpenAI, Azure OpenAI, Ark or Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported chat inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// backendEnv names the native environment variables each backend reads and
// the defaults applied when they are unset. An empty env name means the
// backend has no such setting.
type backendEnv struct {
	model, endpoint, apiKey string
	defaultModel            string
	defaultEndpoint         string
	needsEndpoint           bool
}

var backends = map[Backend]backendEnv{
	BackendOllama: {
		model: "OLLAMA_MODEL", endpoint: "OLLAMA_HOST",
		defaultModel: "llama3.2", defaultEndpoint: "http://localhost:11434",
		needsEndpoint: true,
	},
	BackendOpenAI: {
		model: "OPENAI_MODEL", apiKey: "OPENAI_API_KEY",
		defaultModel: "gpt-4o-mini",
	},
	BackendAzure: {
		model: "AZURE_OPENAI_DEPLOYMENT", endpoint: "AZURE_OPENAI_ENDPOINT", apiKey: "AZURE_OPENAI_API_KEY",
		needsEndpoint: true,
	},
	BackendArk: {
		model: "ARK_MODEL", endpoint: "ARK_BASE_URL", apiKey: "ARK_API_KEY",
	},
	BackendGemini: {
		model: "GEMINI_MODEL", apiKey: "GOOGLE_API_KEY",
		defaultModel: "gemini-1.5-flash",
	},
}

// Config is the resolved chat model selection. Model is the deployment name
// for Azure.
type Config struct {
	Backend    Backend
	Model      string
	Endpoint   string
	APIKey     string
	APIVersion string

	// MaxTokens caps the generated answer.
	MaxTokens int
	// Temperature controls response randomness (0.0–2.0).
	Temperature float32
}

// ParseModelRef splits a "provider:model" reference such as
// "ollama:llama3.2" or "openai:gpt-4o-mini". Everything after the first
// colon is the model, so Ollama tags like "llama3.1:8b" survive.
func ParseModelRef(ref string) (Backend, string, error) {
	b, m, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok || b == "" || m == "" {
		return "", "", fmt.Errorf("provider: model reference %q must look like provider:model", ref)
	}
	backend := Backend(strings.ToLower(b))
	if _, known := backends[backend]; !known {
		return "", "", fmt.Errorf("provider: unknown backend %q in %q", b, ref)
	}
	return backend, m, nil
}

// Validate reports missing settings for the selected backend, naming the
// environment variable that supplies each one.
func (c *Config) Validate() error {
	env, ok := backends[c.Backend]
	if !ok {
		return fmt.Errorf("provider: unknown backend %q (valid: ollama, openai, azure, ark, gemini)", c.Backend)
	}
	if env.apiKey != "" && c.APIKey == "" {
		return fmt.Errorf("provider: %s requires %s", c.Backend, env.apiKey)
	}
	if env.needsEndpoint && c.Endpoint == "" {
		return fmt.Errorf("provider: %s requires %s", c.Backend, env.endpoint)
	}
	if c.Model == "" {
		return fmt.Errorf("provider: %s requires %s or CHAT_MODEL", c.Backend, env.model)
	}
	return nil
}

// ModelName returns the model (or deployment) of the selected backend.
func (c *Config) ModelName() string { return c.Model }

// String renders the selection as a model reference.
func (c *Config) String() string { return string(c.Backend) + ":" + c.Model }

// isAzureReasoningModel reports whether an Azure deployment name is an
// o-series or codex reasoning model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	if strings.HasPrefix(d, "codex") {
		return true
	}
	for _, p := range []string{"o1", "o3", "o4"} {
		if d == p || strings.HasPrefix(d, p+"-") {
			return true
		}
	}
	return false
}
