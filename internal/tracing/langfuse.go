// Package tracing sends generate-endpoint traces (retrieved context, prompt,
// model output) to Langfuse through eino's callback system. It is disabled
// unless both Langfuse keys are configured.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/kbrag-go/internal/version"
)

// defaultHost is a self-hosted Langfuse on its default port.
const defaultHost = "http://localhost:3000"

// Config holds the Langfuse connection settings.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}
	return Config{
		Host:      host,
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Setup registers a global Langfuse callback handler when cfg is enabled and
// returns the flush function that must run before process exit. It returns
// false, and registers nothing, when tracing is not configured.
func Setup(cfg Config) (flush func(), ok bool) {
	if !cfg.Enabled() {
		return func() {}, false
	}
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "kbrag-generate",
		Release:   version.Version,
	})
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
