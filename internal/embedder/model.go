package embedder

import (
	"context"
	"fmt"
	"io"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// probeText is embedded once at load time to discover the vector dimension.
const probeText = "dimension probe"

// Backend is a raw embedding endpoint. Implementations translate one batch
// of texts into vectors and need not validate lengths; Model does that.
type Backend interface {
	// Embed returns one vector per text, parallel to texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the model identifier.
	Model() string
}

// Model is a loaded embedding model. It implements rag.Embedder on top of a
// Backend: it rejects empty input, splits large batches, and checks that
// every vector has the dimension discovered at load time.
type Model struct {
	// backend performs the HTTP (or local) embedding calls.
	backend Backend
	// dim is the vector length observed by the load probe.
	dim int
	// batchSize bounds the number of texts per backend call; 0 means unbounded.
	batchSize int
	// closer releases backend resources such as the vector cache; may be nil.
	closer io.Closer
}

// Load probes backend with a single text to confirm the model is usable and
// to learn its dimension. When expectDim is positive a different dimension
// is an error. Any failure wraps rag.ErrModelUnavailable; callers treat it as
// fatal and do not retry.
func Load(ctx context.Context, backend Backend, expectDim, batchSize int) (*Model, error) {
	vecs, err := backend.Embed(ctx, []string{probeText})
	if err != nil {
		return nil, fmt.Errorf("embedder: load %q: %w: %w", backend.Model(), rag.ErrModelUnavailable, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder: load %q: probe returned no vector: %w", backend.Model(), rag.ErrModelUnavailable)
	}
	dim := len(vecs[0])
	if expectDim > 0 && dim != expectDim {
		return nil, fmt.Errorf("embedder: load %q: model produces %d dimensions, configured %d: %w",
			backend.Model(), dim, expectDim, rag.ErrModelUnavailable)
	}
	return &Model{backend: backend, dim: dim, batchSize: batchSize}, nil
}

// Embed implements rag.Embedder.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedder: %w", rag.ErrEmptyInput)
	}

	step := m.batchSize
	if step <= 0 {
		step = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += step {
		end := min(start+step, len(texts))
		vecs, err := m.backend.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: %s returned %d vectors for %d texts", m.backend.Model(), len(vecs), end-start)
		}
		for i, v := range vecs {
			if len(v) != m.dim {
				return nil, fmt.Errorf("embedder: %s vector %d has length %d, expected %d: %w",
					m.backend.Model(), start+i, len(v), m.dim, rag.ErrDimensionMismatch)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedOne implements rag.Embedder.
func (m *Model) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension implements rag.Embedder.
func (m *Model) Dimension() int { return m.dim }

// Model implements rag.Embedder.
func (m *Model) Model() string { return m.backend.Model() }

// Ping embeds the probe text against the live backend, bypassing the cache.
// It backs the readiness check.
func (m *Model) Ping(ctx context.Context) error {
	b := m.backend
	if c, ok := b.(*CachedBackend); ok {
		b = c.inner
	}
	_, err := b.Embed(ctx, []string{probeText})
	if err != nil {
		return fmt.Errorf("embedder: %s: %w", m.backend.Model(), err)
	}
	return nil
}

// Close releases backend resources.
func (m *Model) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}
