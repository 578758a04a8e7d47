// Package config provides YAML-based configuration for kbrag.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments can override
// any scalar without editing the file.
//
// Scalar settings are exported into the environment and read back by the
// component that owns them (see Retrieval, Qdrant, IndexBackend). The corpus
// source list has no env form and is only available from the returned Config.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. KBRAG_CONFIG environment variable
//  3. ~/.kbrag/config.yaml
//  4. ./kbrag.yaml
//
// If no file is found kbrag runs entirely from env vars and the built-in FAQ.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Path is the file the configuration was read from; empty when none.
	Path string `yaml:"-"`

	// Model configures the chat model behind the generate endpoint.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index selects the vector index backend.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the Qdrant connection and HNSW parameters.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Retrieval configures query defaults and timeouts.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Corpus lists the record sources ingested on rebuild.
	Corpus CorpusConfig `yaml:"corpus"`

	// Schedule configures periodic rebuilds.
	Schedule ScheduleConfig `yaml:"schedule"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Store configures the SQLite manifest and chat history database.
	Store StoreConfig `yaml:"store"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Ref selects backend and model in one "provider:model" string, e.g.
	// "ollama:llama3.2". It overrides Provider and the per-backend model.
	Ref string `yaml:"ref"`

	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider" validate:"omitempty,oneof=ollama openai azure ark gemini"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens" validate:"gte=0"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint, shared with the Ollama embedding backend.
	Host string `yaml:"host"`
	// Model is the Ollama chat model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI chat model name.
	Model string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI chat deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, hash).
	Provider string `yaml:"provider" validate:"omitempty,oneof=ollama openai azure hash"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the expected (and, for OpenAI, requested) vector size.
	Dimensions int `yaml:"dimensions" validate:"gte=0"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	// BatchSize caps texts per embedding request.
	BatchSize int `yaml:"batch_size" validate:"gte=0"`
	// Timeout bounds each embedding request.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// CacheDir enables the on-disk vector cache.
	CacheDir string `yaml:"cache_dir"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Backend is "flat" (exact, in-process) or "qdrant".
	Backend string `yaml:"backend" validate:"omitempty,oneof=flat qdrant"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
	// CollectionPrefix names generation collections "<prefix>_<generation>".
	CollectionPrefix string `yaml:"collection_prefix" validate:"omitempty,excludesall=/ "`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
	// HNSWM is the number of HNSW graph edges per node.
	HNSWM int `yaml:"hnsw_m" validate:"gte=0"`
	// HNSWEfConstruct is the HNSW build-time candidate list size.
	HNSWEfConstruct int `yaml:"hnsw_ef_construct" validate:"gte=0"`
	// SearchEf is the HNSW query-time candidate list size.
	SearchEf int `yaml:"search_ef" validate:"gte=0"`
	// MaxTextLength caps the stored payload length in bytes.
	MaxTextLength int `yaml:"max_text_length" validate:"gte=0"`
}

// RetrievalConfig holds query defaults and timeouts.
type RetrievalConfig struct {
	// DefaultTopK is used when a request omits top_k.
	DefaultTopK int `yaml:"default_top_k" validate:"gte=0,lte=1000"`
	// QueryTimeout bounds one retrieve request.
	QueryTimeout time.Duration `yaml:"query_timeout" validate:"gte=0"`
	// RebuildTimeout bounds one rebuild.
	RebuildTimeout time.Duration `yaml:"rebuild_timeout" validate:"gte=0"`
	// MaxContextTokens is the generate prompt budget.
	MaxContextTokens int `yaml:"max_context_tokens" validate:"gte=0"`
}

// CorpusConfig lists the record sources. It is YAML-only.
type CorpusConfig struct {
	// Sources are read in order on every rebuild.
	Sources []SourceConfig `yaml:"sources" validate:"dive"`
	// IncludeFAQ adds the built-in knowledge-base entries. They are always
	// used when Sources is empty.
	IncludeFAQ bool `yaml:"include_faq"`
}

// SourceConfig is one corpus file.
type SourceConfig struct {
	// Path is the file path.
	Path string `yaml:"path" validate:"required"`
	// Format is csv or jsonl; inferred from the extension when empty.
	Format string `yaml:"format" validate:"omitempty,oneof=csv jsonl"`
	// Type is the record type; inferred from the file name when empty.
	Type string `yaml:"type" validate:"omitempty,oneof=general sales hr customer order product"`
}

// ScheduleConfig holds periodic rebuild settings.
type ScheduleConfig struct {
	// Rebuild is a cron expression ("@every 6h", "0 3 * * *"); empty disables it.
	Rebuild string `yaml:"rebuild"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
	// RateLimitRPS is the per-client request rate; zero uses the server default.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	// RateLimitBurst is the per-client burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" validate:"gte=0"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	// Format is the log output format: json, text.
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// StoreConfig holds SQLite settings.
type StoreConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to run without
	// a manifest or chat history.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"CHAT_MODEL", func(c *Config) string { return c.Model.Ref }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return durationStr(c.Embedding.Timeout) }},
	{"EMBEDDING_CACHE_DIR", func(c *Config) string { return c.Embedding.CacheDir }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION_PREFIX", func(c *Config) string { return c.Qdrant.CollectionPrefix }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"QDRANT_HNSW_M", func(c *Config) string { return intStr(c.Qdrant.HNSWM) }},
	{"QDRANT_HNSW_EF_CONSTRUCT", func(c *Config) string { return intStr(c.Qdrant.HNSWEfConstruct) }},
	{"QDRANT_SEARCH_EF", func(c *Config) string { return intStr(c.Qdrant.SearchEf) }},
	{"QDRANT_MAX_TEXT_LENGTH", func(c *Config) string { return intStr(c.Qdrant.MaxTextLength) }},
	{"RETRIEVAL_DEFAULT_TOP_K", func(c *Config) string { return intStr(c.Retrieval.DefaultTopK) }},
	{"RETRIEVAL_QUERY_TIMEOUT", func(c *Config) string { return durationStr(c.Retrieval.QueryTimeout) }},
	{"RETRIEVAL_REBUILD_TIMEOUT", func(c *Config) string { return durationStr(c.Retrieval.RebuildTimeout) }},
	{"RETRIEVAL_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Retrieval.MaxContextTokens) }},
	{"REBUILD_SCHEDULE", func(c *Config) string { return c.Schedule.Rebuild }},
	{"SERVER_RATE_LIMIT_RPS", func(c *Config) string { return float64Str(c.Server.RateLimitRPS) }},
	{"SERVER_RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Server.RateLimitBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"KBRAG_DB", func(c *Config) string { return c.Store.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// validate is shared; validator caches struct metadata per instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a YAML config file, validates it, and applies non-empty scalar
// values as environment variables. Existing env vars are never overwritten
// (env always wins). When no file is found it returns an empty Config.
func Load(explicitPath string, log *slog.Logger) (*Config, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		if explicitPath != "" {
			log.Warn("config: explicit config file not found, using env vars only", slog.String("path", explicitPath))
		} else {
			log.Debug("config: no YAML config file found, using env vars only")
		}
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	cfg.Path = path

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, describe(err))
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return nil, fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
		slog.Int("corpus_sources", len(cfg.Corpus.Sources)),
	)
	return &cfg, nil
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.TrimPrefix(fe.Namespace(), "Config."), rule))
	}
	return errors.New(strings.Join(parts, "; "))
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("KBRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".kbrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("kbrag.yaml"); err == nil {
		return "kbrag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	return float32Str(float32(v))
}

// durationStr converts a duration to string, returning "" for zero values.
func durationStr(v time.Duration) string {
	if v == 0 {
		return ""
	}
	return v.String()
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
