// Package embedder turns text into dense vectors for the retrieval index.
// Backends talk to Ollama, OpenAI or Azure OpenAI over plain HTTP, or hash
// features locally; Model wraps any of them with input validation and a
// load-time dimension probe, and CachedBackend memoizes vectors on disk.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIEmbedder calls the OpenAI embeddings API, or the Azure OpenAI
// deployment route when configured for Azure. Safe for concurrent use.
type OpenAIEmbedder struct {
	url        string
	header     http.Header
	model      string
	dimensions int
	client     *http.Client
}

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" for OpenAI or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	APIKey  string
	// Model is the embedding model, or the deployment name on Azure.
	Model string
	// Dimensions shortens text-embedding-3 vectors; 0 keeps the model default.
	Dimensions int
	// Azure switches to the api-key header and the deployment route.
	Azure      bool
	APIVersion string
	// Timeout bounds one batch request (default 30s).
	Timeout time.Duration
}

// NewOpenAIEmbedder returns an embedder for cfg.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	e := &OpenAIEmbedder{
		url:        base + "/embeddings",
		header:     http.Header{},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
	if cfg.Azure {
		e.url = base + "/deployments/" + url.PathEscape(cfg.Model) + "/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
		e.header.Set("api-key", cfg.APIKey)
	} else {
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimensions returns the requested output length, zero for the model default.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Embed encodes texts in one request; vectors are parallel to texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}
	var out openaiEmbedResponse
	if err := postJSON(ctx, e.client, e.url, e.header, body, &out); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: %d texts produced %d embeddings", len(texts), len(out.Data))
	}

	// Data may arrive out of order.
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) || vecs[d.Index] != nil {
			return nil, fmt.Errorf("openai embedder: unexpected embedding index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
