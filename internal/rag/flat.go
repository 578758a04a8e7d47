package rag

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// FlatIndex is an exact, in-process VectorIndex. Vectors live in a single
// contiguous slice and every Search scans all of them, which is fine for
// corpora of hundreds to low thousands of entries.
//
// The index is owned by one process and persists nothing; it is rebuilt from
// the corpus on every start.
type FlatIndex struct {
	// name identifies this instance in logs and status output.
	name string
	// dim is the vector length this index is bound to.
	dim int

	// mu guards every field below.
	mu sync.RWMutex
	// state is the lifecycle state.
	state IndexState
	// data holds len(texts)*dim float32s, row-major.
	data []float32
	// texts is positionally aligned with the rows of data.
	texts []string
}

// NewFlatIndex returns an empty FlatIndex bound to dim.
func NewFlatIndex(name string, dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("rag: flat index dimension must be positive, got %d", dim)
	}
	return &FlatIndex{name: name, dim: dim}, nil
}

// FlatFactory returns an IndexFactory producing FlatIndex instances named
// "<base>-<generation>".
func FlatFactory(base string, dim int) IndexFactory {
	return func(_ context.Context, generation string) (VectorIndex, error) {
		return NewFlatIndex(base+"-"+generation, dim)
	}
}

// Name returns the index name.
func (f *FlatIndex) Name() string { return f.name }

// Dimension returns the vector length.
func (f *FlatIndex) Dimension() int { return f.dim }

// State returns the lifecycle state.
func (f *FlatIndex) State() IndexState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Build marks the index Ready. The flat array is the index, so there is
// nothing to construct.
func (f *FlatIndex) Build(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateReady {
		return nil
	}
	f.state = StateReady
	return nil
}

// Insert appends vectors and their payloads.
func (f *FlatIndex) Insert(_ context.Context, vectors [][]float32, texts []string) error {
	if len(vectors) == 0 {
		return fmt.Errorf("rag: flat insert: %w", ErrEmptyInput)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("rag: flat insert: %d vectors but %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("rag: flat insert: vector %d has length %d, index is %d: %w", i, len(v), f.dim, ErrDimensionMismatch)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateReady {
		return fmt.Errorf("rag: flat insert into %q: %w", f.name, ErrIndexNotReady)
	}

	f.data = slices.Grow(f.data, len(vectors)*f.dim)
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	f.texts = append(f.texts, texts...)
	return nil
}

// Search returns the k entries with the smallest squared L2 distance to
// query. Equal distances keep insertion order.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("rag: flat search: query has length %d, index is %d: %w", len(query), f.dim, ErrDimensionMismatch)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.texts)
	if f.state != StateReady || n == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, asTimeout(ctx, err)
	}

	hits := make([]Hit, n)
	for i := range n {
		row := f.data[i*f.dim : (i+1)*f.dim]
		hits[i] = Hit{ID: uint64(i), Text: f.texts[i], Distance: squaredL2(row, query)}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(a.Distance, b.Distance)
	})

	if k > n {
		k = n
	}
	return hits[:k:k], nil
}

// Len returns the number of stored entries.
func (f *FlatIndex) Len(_ context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.texts), nil
}

// ScanAll returns up to limit entries in insertion order.
func (f *FlatIndex) ScanAll(_ context.Context, limit int) ([]Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.texts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	for i := range n {
		out[i] = Entry{ID: uint64(i), Text: f.texts[i]}
	}
	return out, nil
}

// Drop discards all entries and returns the index to Empty.
func (f *FlatIndex) Drop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = nil
	f.texts = nil
	f.state = StateEmpty
	return nil
}

// Close is a no-op; the flat index holds no external resources.
func (f *FlatIndex) Close() error { return nil }

// squaredL2 returns the squared Euclidean distance between a and b, which
// must have equal length.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
