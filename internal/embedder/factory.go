package embedder

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Default embedding models per backend.
const (
	// defaultOllamaModel is the Ollama packaging of all-MiniLM-L6-v2 (384 dims).
	defaultOllamaModel = "all-minilm"
	defaultOpenAIModel = "text-embedding-3-small"

	defaultOllamaHost      = "http://localhost:11434"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultAzureAPIVersion = "2025-04-01-preview"

	// defaultOpenAIBatch stays under the embeddings API's per-request input cap.
	defaultOpenAIBatch = 512
)

// Config selects and parameterizes an embedding backend.
type Config struct {
	// Provider is ollama, openai, azure or hash.
	Provider string
	// Model is the embedding model (deployment name on Azure).
	Model string
	// Endpoint is the backend base URL.
	Endpoint string
	// APIKey authenticates openai and azure.
	APIKey string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Dimensions is the expected vector length. It is sent to OpenAI as the
	// requested size, sizes the hash backend, and is verified at load time
	// for every backend. Zero accepts whatever the model produces.
	Dimensions int
	// BatchSize caps texts per backend call; zero means one call per batch.
	BatchSize int
	// Timeout bounds each backend HTTP call.
	Timeout time.Duration
	// CacheDir enables the on-disk vector cache when non-empty.
	CacheDir string
}

// ConfigFromEnv resolves the embedding configuration from the environment,
// inheriting credentials from the chat provider when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER; if unset, MODEL_PROVIDER when it is ollama, openai
//     or azure; otherwise ollama
//  2. EMBEDDING_MODEL overrides the default model for the resolved backend
//  3. EMBEDDING_API_KEY overrides the inherited API key
//  4. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  5. EMBEDDING_DIMENSIONS, EMBEDDING_BATCH_SIZE, EMBEDDING_TIMEOUT,
//     EMBEDDING_CACHE_DIR
func ConfigFromEnv() Config {
	cfg := Config{
		Provider:   resolveProvider(),
		Model:      getEnv("EMBEDDING_MODEL"),
		Endpoint:   getEnv("EMBEDDING_ENDPOINT"),
		APIKey:     getEnv("EMBEDDING_API_KEY"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		BatchSize:  getEnvInt("EMBEDDING_BATCH_SIZE", 0),
		CacheDir:   getEnv("EMBEDDING_CACHE_DIR"),
	}
	if d, err := time.ParseDuration(getEnv("EMBEDDING_TIMEOUT")); err == nil {
		cfg.Timeout = d
	}

	switch cfg.Provider {
	case "ollama":
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnvOrDefault("OLLAMA_HOST", defaultOllamaHost)
		}
		if cfg.Model == "" {
			cfg.Model = defaultOllamaModel
		}
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = getEnv("OPENAI_API_KEY")
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = defaultOpenAIBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
	case "azure":
		if cfg.APIKey == "" {
			cfg.APIKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", defaultAzureAPIVersion)
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
	case "hash":
		if cfg.Dimensions == 0 {
			cfg.Dimensions = DefaultHashDimensions
		}
	}
	return cfg
}

// resolveProvider implements step 1 of ConfigFromEnv.
func resolveProvider() string {
	if p := getEnv("EMBEDDING_PROVIDER"); p != "" {
		return p
	}
	switch p := getEnv("MODEL_PROVIDER"); p {
	case "ollama", "openai", "azure":
		return p
	}
	return "ollama"
}

// NewBackend constructs the raw backend for cfg without probing it.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:    cfg.Endpoint,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.Timeout,
		}), nil

	case "hash":
		dim := cfg.Dimensions
		if dim == 0 {
			dim = DefaultHashDimensions
		}
		return NewHashEmbedder(dim)

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, hash)", cfg.Provider)
	}
}

// New builds the backend for cfg, wraps it with the vector cache when
// configured, and loads it. The returned Model must be closed to release
// the cache.
func New(ctx context.Context, cfg Config) (*Model, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	var closer io.Closer
	if cfg.CacheDir != "" {
		cached, err := OpenCachedBackend(backend, cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		backend, closer = cached, cached
	}

	batch := cfg.BatchSize
	if batch == 0 && (cfg.Provider == "openai" || cfg.Provider == "azure") {
		batch = defaultOpenAIBatch
	}

	m, err := Load(ctx, backend, cfg.Dimensions, batch)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	m.closer = closer
	return m, nil
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
