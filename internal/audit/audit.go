// Package audit records which configuration a kbrag command started with.
// Operators can trace which embedding model, index backend and corpus a
// rebuild used without secrets reaching the log: secret variables are
// logged as "set" or "unset" only.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// envKey is an environment variable included in the audit record.
type envKey struct {
	name   string
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit record.
var auditKeys = []envKey{
	{"KBRAG_CONFIG", false},
	{"KBRAG_DB", false},
	{"INDEX_BACKEND", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_DIMENSIONS", false},
	{"EMBEDDING_CACHE_DIR", false},
	{"EMBEDDING_API_KEY", true},
	{"OLLAMA_HOST", false},
	{"QDRANT_HOST", false},
	{"QDRANT_PORT", false},
	{"QDRANT_COLLECTION_PREFIX", false},
	{"QDRANT_API_KEY", true},
	{"CHAT_MODEL", false},
	{"MODEL_PROVIDER", false},
	{"OLLAMA_MODEL", false},
	{"OPENAI_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"ARK_MODEL", false},
	{"ARK_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"GOOGLE_API_KEY", true},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
}

// LogCommandStart emits one INFO record naming the command, the config file
// and the sanitized environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitizeConfigPath(configPath)),
	)
	for _, k := range auditKeys {
		attrs = append(attrs, slog.String(k.name, sanitize(k, os.Getenv(k.name))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// Sanitize returns the loggable form of an environment variable value:
// "set"/"unset" for secrets, the value (or "unset") otherwise. Unknown keys
// whose names look like credentials are treated as secrets.
func Sanitize(name, value string) string {
	for _, k := range auditKeys {
		if k.name == name {
			return sanitize(k, value)
		}
	}
	return sanitize(envKey{name: name, secret: looksSecret(name)}, value)
}

func sanitize(k envKey, value string) string {
	switch {
	case value == "":
		return "unset"
	case k.secret:
		return "set"
	default:
		return value
	}
}

// looksSecret matches the naming conventions of credential variables.
func looksSecret(name string) bool {
	n := strings.ToUpper(name)
	for _, marker := range []string{"KEY", "SECRET", "TOKEN", "PASSWORD"} {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

// sanitizeConfigPath returns the config path with the home directory
// shortened to "~", or "none" if empty.
func sanitizeConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
