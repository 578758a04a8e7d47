package config

import (
	"os"
	"strconv"
	"time"

	"github.com/54b3r/kbrag-go/internal/rag"
	"github.com/54b3r/kbrag-go/internal/store"
)

// Defaults applied when neither YAML nor env sets a value.
const (
	DefaultTopK             = 5
	DefaultQueryTimeout     = 10 * time.Second
	DefaultRebuildTimeout   = 30 * time.Minute
	DefaultCollectionPrefix = "kbrag"
	DefaultIndexBackend     = "flat"
)

// Retrieval holds the resolved query settings.
type Retrieval struct {
	// DefaultTopK is used when a request omits top_k.
	DefaultTopK int
	// QueryTimeout bounds one retrieve or generate request.
	QueryTimeout time.Duration
	// RebuildTimeout bounds one rebuild.
	RebuildTimeout time.Duration
	// MaxContextTokens is the generate prompt budget; zero uses the budget default.
	MaxContextTokens int
}

// RetrievalFromEnv resolves Retrieval from RETRIEVAL_* variables.
func RetrievalFromEnv() Retrieval {
	return Retrieval{
		DefaultTopK:      getEnvInt("RETRIEVAL_DEFAULT_TOP_K", DefaultTopK),
		QueryTimeout:     getEnvDuration("RETRIEVAL_QUERY_TIMEOUT", DefaultQueryTimeout),
		RebuildTimeout:   getEnvDuration("RETRIEVAL_REBUILD_TIMEOUT", DefaultRebuildTimeout),
		MaxContextTokens: getEnvInt("RETRIEVAL_MAX_CONTEXT_TOKENS", 0),
	}
}

// IndexBackend returns INDEX_BACKEND ("flat" or "qdrant").
func IndexBackend() string {
	return getEnvOrDefault("INDEX_BACKEND", DefaultIndexBackend)
}

// QdrantFromEnv resolves the Qdrant connection from QDRANT_* variables.
// Collection holds the generation prefix; Dimension is left for the caller,
// which knows it only after the embedding model has loaded.
func QdrantFromEnv() rag.QdrantConfig {
	return rag.QdrantConfig{
		Host:            os.Getenv("QDRANT_HOST"),
		Port:            getEnvInt("QDRANT_PORT", 0),
		Collection:      getEnvOrDefault("QDRANT_COLLECTION_PREFIX", DefaultCollectionPrefix),
		APIKey:          os.Getenv("QDRANT_API_KEY"),
		UseTLS:          os.Getenv("QDRANT_TLS") == "true",
		HNSWM:           uint64(max(getEnvInt("QDRANT_HNSW_M", 0), 0)),            //nolint:gosec // clamped
		HNSWEfConstruct: uint64(max(getEnvInt("QDRANT_HNSW_EF_CONSTRUCT", 0), 0)), //nolint:gosec // clamped
		SearchEf:        uint64(max(getEnvInt("QDRANT_SEARCH_EF", 0), 0)),         //nolint:gosec // clamped
		MaxTextLength:   getEnvInt("QDRANT_MAX_TEXT_LENGTH", 0),
	}
}

// RebuildSchedule returns REBUILD_SCHEDULE; empty disables scheduled rebuilds.
func RebuildSchedule() string {
	return os.Getenv("REBUILD_SCHEDULE")
}

// RateLimit returns the per-client rate and burst; zero keeps the server
// default of 10 requests/second with a burst of 20.
func RateLimit() (rps float64, burst int) {
	rps = getEnvFloat("SERVER_RATE_LIMIT_RPS", 0)
	burst = getEnvInt("SERVER_RATE_LIMIT_BURST", 0)
	if rps > 0 && burst <= 0 {
		burst = max(int(rps), 1)
	}
	return rps, burst
}

// DBPath returns the SQLite path from KBRAG_DB, falling back to
// store.DefaultDBPath. It returns "" when the store is disabled.
func DBPath() (string, error) {
	switch p := os.Getenv("KBRAG_DB"); p {
	case "disabled":
		return "", nil
	case "":
		return store.DefaultDBPath()
	default:
		return p, nil
	}
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
