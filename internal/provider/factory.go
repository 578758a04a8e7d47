package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// ConfigFromEnv resolves the chat model from environment variables.
//
//	CHAT_MODEL         = provider:model, e.g. ollama:llama3.2 (overrides the two below)
//	MODEL_PROVIDER     = ollama | openai | azure | ark | gemini (default: ollama)
//	<native model var> = OLLAMA_MODEL, OPENAI_MODEL, AZURE_OPENAI_DEPLOYMENT, ARK_MODEL, GEMINI_MODEL
//
// Credentials and endpoints come from each provider's native variables
// (OLLAMA_HOST, OPENAI_API_KEY, AZURE_OPENAI_*, ARK_*, GOOGLE_API_KEY).
// MODEL_MAX_TOKENS (default 1024) and MODEL_TEMPERATURE (default 0.2) apply
// to every backend that accepts them.
//
// A malformed CHAT_MODEL is reported by Validate through an unknown backend.
func ConfigFromEnv() *Config {
	backend := Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendOllama)))
	var modelName string
	if ref := os.Getenv("CHAT_MODEL"); ref != "" {
		b, m, err := ParseModelRef(ref)
		if err != nil {
			backend = Backend(ref)
		} else {
			backend, modelName = b, m
		}
	}

	cfg := &Config{
		Backend:     backend,
		Model:       modelName,
		APIVersion:  getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 1024),
		Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
	}
	env, ok := backends[backend]
	if !ok {
		return cfg
	}
	if cfg.Model == "" {
		cfg.Model = getEnvOrDefault(env.model, env.defaultModel)
	}
	if env.endpoint != "" {
		cfg.Endpoint = getEnvOrDefault(env.endpoint, env.defaultEndpoint)
	}
	if env.apiKey != "" {
		cfg.APIKey = os.Getenv(env.apiKey)
	}
	return cfg
}

// New validates cfg and constructs the chat model for its backend, so a
// misconfiguration surfaces at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendArk:
		m, err = newArk(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: %s: %w", cfg, err)
	}
	return m, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
