package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/kbrag-go/internal/logging"
)

func TestRequestLogger_RequestID(t *testing.T) {
	t.Parallel()

	const upstream = "3f2b8c4e-7a51-4f0e-9d7c-2c1e5b6a9f10"
	tests := []struct {
		name     string
		inbound  string
		wantSame bool
	}{
		{name: "generated when absent"},
		{name: "reuses upstream uuid", inbound: upstream, wantSame: true},
		{name: "replaces malformed id", inbound: "abc\r\ninjected"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var ctxID string
			h := requestLogger(slog.New(slog.DiscardHandler), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = w.Header().Get(requestIDHeader)
				if logging.FromContext(r.Context()) == slog.Default() {
					t.Error("request logger not stored in context")
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/status", nil)
			if tc.inbound != "" {
				req.Header.Set(requestIDHeader, tc.inbound)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == "" || got != ctxID {
				t.Fatalf("request id header %q, handler saw %q", got, ctxID)
			}
			if tc.wantSame != (got == tc.inbound) {
				t.Errorf("inbound %q, response %q", tc.inbound, got)
			}
		})
	}
}

func TestRequestLogger_LogsStatusAndBytes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := requestLogger(log, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/retrieve", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=418", "bytes=15", "path=/api/retrieve"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestAccessLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/retrieve", http.StatusOK, slog.LevelInfo},
		{"/api/health", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/api/ready", http.StatusServiceUnavailable, slog.LevelError},
		{"/api/retrieve", http.StatusBadRequest, slog.LevelWarn},
		{"/api/generate", http.StatusGatewayTimeout, slog.LevelError},
	}
	for _, tc := range tests {
		if got := accessLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("accessLevel(%s, %d) = %v, want %v", tc.path, tc.status, got, tc.want)
		}
	}
}
