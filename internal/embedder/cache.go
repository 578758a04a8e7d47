package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/54b3r/kbrag-go/internal/logging"
)

// cachedVector is the badgerhold record stored per (model, dimensions, text).
type cachedVector struct {
	Model  string
	Vector []float32
}

// CachedBackend memoizes another Backend's vectors in a BadgerDB directory,
// keyed by model, requested dimensions and a SHA-256 of the text. A rebuild over an unchanged
// corpus then only embeds the records that are new. Cache read and write
// failures are logged and fall through to the wrapped backend.
type CachedBackend struct {
	// inner computes vectors on a miss.
	inner Backend
	// store is the badgerhold store, owned by this value.
	store *badgerhold.Store
	// namespace identifies inner's output shape within the cache.
	namespace string

	hits   atomic.Int64
	misses atomic.Int64
}

// OpenCachedBackend opens (creating if needed) the cache at dir in front of
// inner.
func OpenCachedBackend(inner Backend, dir string) (*CachedBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("embedder: create cache directory %s: %w", dir, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("embedder: open cache %s: %w", dir, err)
	}
	return &CachedBackend{inner: inner, store: store, namespace: cacheNamespace(inner)}, nil
}

// dimensioner is implemented by backends whose output length is
// configurable for a single model.
type dimensioner interface {
	Dimensions() int
}

func cacheNamespace(inner Backend) string {
	if d, ok := inner.(dimensioner); ok && d.Dimensions() > 0 {
		return fmt.Sprintf("%s@%d", inner.Model(), d.Dimensions())
	}
	return inner.Model()
}

// Model returns the wrapped backend's model.
func (c *CachedBackend) Model() string { return c.inner.Model() }

// Embed serves cached vectors and embeds the misses in one inner call.
func (c *CachedBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	log := logging.FromContext(ctx)
	model := c.namespace

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		var rec cachedVector
		err := c.store.Get(cacheKey(model, t), &rec)
		switch {
		case err == nil && rec.Model == model:
			out[i] = rec.Vector
			continue
		case err != nil && !errors.Is(err, badgerhold.ErrNotFound):
			log.Warn("embedder: cache read failed", slog.Any("error", err))
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	c.hits.Add(int64(len(texts) - len(missIdx)))
	c.misses.Add(int64(len(missIdx)))
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder: %s returned %d vectors for %d texts", c.inner.Model(), len(vecs), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.store.Upsert(cacheKey(model, missTexts[j]), &cachedVector{Model: model, Vector: vecs[j]}); err != nil {
			log.Warn("embedder: cache write failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// Stats returns the cumulative hit and miss counts.
func (c *CachedBackend) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// gcDiscardRatio is the stale fraction above which a value log file is
// rewritten on close.
const gcDiscardRatio = 0.5

// Close reclaims value-log space left by overwritten vectors and closes the
// store.
func (c *CachedBackend) Close() error {
	db := c.store.Badger()
	for {
		if err := db.RunValueLogGC(gcDiscardRatio); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				slog.Warn("embedder: cache value log GC failed", slog.Any("error", err))
			}
			break
		}
	}
	return c.store.Close()
}

func cacheKey(namespace, text string) string {
	sum := sha256.Sum256([]byte(text))
	return namespace + ":" + hex.EncodeToString(sum[:])
}
