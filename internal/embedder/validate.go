package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") || strings.Contains(lower, "minilm") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForRAG is a pre-flight check on the resolved embedding config. It
// returns an error when the configuration is clearly broken (missing
// credentials, unknown backend) and logs a warning when it is merely
// suspicious: a model name that looks like a chat model, or a backend
// silently inherited from MODEL_PROVIDER.
//
// Call it before New so operators get a clear error at startup rather than
// an opaque model-load failure.
func ValidateForRAG(cfg Config, log *slog.Logger) error {
	if os.Getenv("EMBEDDING_PROVIDER") == "" && os.Getenv("MODEL_PROVIDER") == cfg.Provider && cfg.Provider != "ollama" {
		log.Warn("embedder: EMBEDDING_PROVIDER is not set, inheriting MODEL_PROVIDER as embedding backend",
			slog.String("backend", cfg.Provider),
			slog.String("hint", "set EMBEDDING_PROVIDER=ollama (or openai/azure/hash) to be explicit"),
		)
	}

	switch cfg.Provider {
	case "ollama":
		if cfg.Endpoint == "" {
			return fmt.Errorf("embedder: ollama endpoint is empty; set OLLAMA_HOST or EMBEDDING_ENDPOINT")
		}
	case "openai":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: no OpenAI API key found; set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: no Azure API key found; set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if cfg.Endpoint == "" {
			return fmt.Errorf("embedder: no Azure endpoint found; set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "hash":
		log.Info("embedder: using the lexical hash embedder; retrieval quality is keyword-level only")
		return nil
	default:
		return fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, hash)", cfg.Provider)
	}

	if cfg.Dimensions < 0 {
		return fmt.Errorf("embedder: EMBEDDING_DIMENSIONS must not be negative, got %d", cfg.Dimensions)
	}

	if looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. all-minilm, nomic-embed-text, text-embedding-3-small"),
		)
	}
	return nil
}
