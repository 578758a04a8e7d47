package embedder

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashDimensions matches all-minilm so hash and Ollama indexes are
// sized alike.
const DefaultHashDimensions = 384

// HashEmbedder is an offline Backend using the hashing trick: each lower-cased
// token is hashed into one of dim buckets with a hash-derived sign, and the
// result is L2-normalized. It needs no model download and is deterministic
// across processes, which makes it suitable for tests and air-gapped
// deployments. Quality is lexical only.
type HashEmbedder struct {
	// dim is the output vector length.
	dim int
	// tokenPattern matches words and numbers.
	tokenPattern *regexp.Regexp
}

// NewHashEmbedder returns a HashEmbedder producing dim-length vectors.
func NewHashEmbedder(dim int) (*HashEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hash embedder: dimension must be positive, got %d", dim)
	}
	return &HashEmbedder{
		dim:          dim,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+`),
	}, nil
}

// Model returns "hash-<dim>".
func (e *HashEmbedder) Model() string { return fmt.Sprintf("hash-%d", e.dim) }

// Embed hashes each text independently.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range e.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := xxhash.Sum64String(tok)
		bucket := h % uint64(e.dim) //nolint:gosec // dim is positive
		if h>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
