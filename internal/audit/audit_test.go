package audit

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, key, value, want string
	}{
		{"known secret set", "OPENAI_API_KEY", "sk-abc123", "set"},
		{"known secret empty", "QDRANT_API_KEY", "", "unset"},
		{"plain value", "EMBEDDING_MODEL", "all-minilm", "all-minilm"},
		{"plain empty", "INDEX_BACKEND", "", "unset"},
		{"unknown credential-like", "MY_SERVICE_TOKEN", "t0k3n", "set"},
		{"unknown plain", "HOSTNAME", "node-1", "node-1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Sanitize(tc.key, tc.value); got != tc.want {
				t.Errorf("Sanitize(%s) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestSanitizeConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitizeConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitizeConfigPath("/tmp/kbrag.yaml"); got != "/tmp/kbrag.yaml" {
		t.Errorf("expected '/tmp/kbrag.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && home != "/" {
		p := home + "/.kbrag/config.yaml"
		if got := sanitizeConfigPath(p); got != "~/.kbrag/config.yaml" {
			t.Errorf("expected '~/.kbrag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	t.Setenv("EMBEDDING_MODEL", "all-minilm")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "ingest", "")

	out := buf.String()
	if strings.Contains(out, "sk-very-secret") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	for _, want := range []string{`"command":"ingest"`, `"OPENAI_API_KEY":"set"`, `"EMBEDDING_MODEL":"all-minilm"`, `"config_file":"none"`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit record missing %s: %s", want, out)
		}
	}
}
