// Package rag defines the semantic retrieval engine: the embedding and vector
// index contracts, the two index backends (an exact in-process flat index and
// a Qdrant-backed HNSW index), and the Service that ties them together at
// ingestion and query time.
package rag

import (
	"context"
)

// Result type tags produced by the classification heuristic.
const (
	// TypeHR tags passages that look like HR records for people questions.
	TypeHR = "HR"
	// TypeSales tags passages that look like sales records for sales questions.
	TypeSales = "Sales"
	// TypeGeneral is the fallback tag.
	TypeGeneral = "General"
)

// Result is a single ranked passage returned to the caller.
type Result struct {
	// Type is the query-dependent tag assigned by Classify.
	Type string `json:"type"`

	// Content is the stored passage text.
	Content string `json:"content"`

	// Distance is the raw distance reported by the index (squared L2 for the
	// flat index, L2 for Qdrant). Lower is closer. Not comparable across
	// embedding models or index backends.
	Distance float32 `json:"distance"`
}

// Hit is a raw nearest-neighbour match returned by a VectorIndex.
type Hit struct {
	// ID is the index-assigned entry identifier.
	ID uint64

	// Text is the payload stored alongside the vector.
	Text string

	// Distance is the backend's L2 distance to the query vector.
	Distance float32
}

// Entry is a stored index entry as returned by ScanAll.
type Entry struct {
	// ID is the index-assigned entry identifier.
	ID uint64 `json:"id"`

	// Text is the stored payload.
	Text string `json:"text"`
}

// IndexState is the lifecycle state of a VectorIndex.
type IndexState int

const (
	// StateEmpty is the initial state and the state after Drop.
	StateEmpty IndexState = iota
	// StateBuilding is held while Build creates the underlying structures.
	StateBuilding
	// StateReady accepts Insert and Search.
	StateReady
)

// String returns the lowercase state name used in logs and status responses.
func (s IndexState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Embedder converts text into dense vectors of a fixed dimension.
// Implementations must be deterministic for a fixed model and safe to call
// from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into embeddings. The returned slice is
	// parallel to the input. An empty batch fails with ErrEmptyInput.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed vector length produced by the model.
	Dimension() int

	// Model returns the model identifier the vectors were produced with.
	Model() string
}

// VectorIndex stores vectors with a text payload and answers
// nearest-neighbour queries by ascending L2 distance.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Name identifies the index instance (collection name for Qdrant).
	Name() string

	// Dimension returns the vector length this index is bound to.
	Dimension() int

	// State reports the current lifecycle state.
	State() IndexState

	// Build creates the underlying storage and transitions Empty → Ready.
	Build(ctx context.Context) error

	// Insert appends vectors with their parallel text payloads.
	// texts[i] is the payload for vectors[i]. The index must be Ready.
	Insert(ctx context.Context, vectors [][]float32, texts []string) error

	// Search returns up to k entries closest to query, closest first.
	// An empty or unbuilt index yields an empty slice and no error.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// ScanAll returns up to limit stored entries for inspection.
	ScanAll(ctx context.Context, limit int) ([]Entry, error)

	// Drop deletes every entry and the underlying storage (Ready → Empty).
	Drop(ctx context.Context) error

	// Close releases any client resources. It does not drop data.
	Close() error
}

// IndexFactory creates a fresh, unbuilt VectorIndex for a rebuild generation.
// generation is unique per rebuild so external backends can build into a new
// collection before the active one is swapped out.
type IndexFactory func(ctx context.Context, generation string) (VectorIndex, error)

// Retriever is the query-time contract consumed by HTTP handlers and the
// answer generator.
type Retriever interface {
	// Retrieve returns up to topK classified passages for query.
	Retrieve(ctx context.Context, query string, topK int) ([]Result, error)
}
