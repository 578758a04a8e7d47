package embedder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path: want /api/embed, got %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "all-minilm" {
			t.Errorf("model: want all-minilm, got %s", req.Model)
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "all-minilm"})
	vecs, err := emb.Embed(t.Context(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("vectors: %v", vecs)
	}
}

func TestOllamaEmbedder_ErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"all-minilm\" not found, try pulling it first"}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "all-minilm"})
	_, err := emb.Embed(t.Context(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "try pulling it first") {
		t.Errorf("want server error message, got %v", err)
	}
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header: %q", got)
		}
		var req openaiEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Dimensions != 2 {
			t.Errorf("dimensions: want 2, got %d", req.Dimensions)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[1,1]},
			{"index":0,"embedding":[0,0]}
		]}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small", Dimensions: 2})
	vecs, err := emb.Embed(t.Context(), []string{"zero", "one"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vecs[0][0] != 0 || vecs[1][0] != 1 {
		t.Errorf("vectors not placed by index: %v", vecs)
	}
}

func TestOpenAIEmbedder_AzureRouting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/embed-prod/embeddings" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2025-04-01-preview" {
			t.Errorf("api-version: %s", r.URL.RawQuery)
		}
		if r.Header.Get("api-key") != "az-key" {
			t.Errorf("api-key header: %q", r.Header.Get("api-key"))
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	t.Cleanup(srv.Close)

	backend, err := NewBackend(Config{
		Provider:   "azure",
		Endpoint:   srv.URL,
		APIKey:     "az-key",
		Model:      "embed-prod",
		APIVersion: "2025-04-01-preview",
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if _, err := backend.Embed(t.Context(), []string{"x"}); err != nil {
		t.Fatalf("embed: %v", err)
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := emb.Embed(t.Context(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "Incorrect API key") {
		t.Errorf("want API error message, got %v", err)
	}
}

func TestNew_LoadsOverHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, make([]float32, 384))
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	m, err := New(t.Context(), Config{Provider: "ollama", Endpoint: srv.URL, Model: "all-minilm"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if m.Dimension() != 384 {
		t.Errorf("dimension: want 384, got %d", m.Dimension())
	}
	if err := m.Ping(t.Context()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "ollama", body: `{"error":"model not found"}`, want: "model not found"},
		{name: "openai", body: `{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`, want: "quota exceeded"},
		{name: "html gateway page", body: `<html>bad gateway</html>`, want: "Bad Gateway"},
		{name: "empty", body: ``, want: "Bad Gateway"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := apiErrorMessage(http.StatusBadGateway, []byte(tc.body)); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOpenAIEmbedder_RejectsDuplicateIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]},{"index":0,"embedding":[2]}]}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	if _, err := emb.Embed(t.Context(), []string{"a", "b"}); err == nil {
		t.Error("want error for duplicate index")
	}
}
