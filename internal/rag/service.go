package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/kbrag-go/internal/logging"
)

// dropTimeout bounds the best-effort cleanup of a failed or superseded
// generation, which runs after the caller's context may have expired.
const dropTimeout = 30 * time.Second

// TextLimiter is implemented by indexes that cannot store payloads above a
// byte length. The Service skips such texts before embedding them.
type TextLimiter interface {
	// MaxTextLength returns the payload byte limit, zero when unlimited.
	MaxTextLength() int
}

// Manifest persists which index generation is active so another process,
// or the next start of this one, can re-attach without re-ingesting.
type Manifest interface {
	// Activate records info as the active generation.
	Activate(ctx context.Context, info GenerationInfo) error
	// Deactivate marks the named index as no longer active.
	Deactivate(ctx context.Context, indexName string) error
}

// GenerationInfo describes one built index generation.
type GenerationInfo struct {
	// ID is the rebuild generation identifier.
	ID string `json:"id"`
	// Index is the index (collection) name.
	Index string `json:"index"`
	// Model is the embedding model the vectors were produced with.
	Model string `json:"model"`
	// Dimension is the vector length.
	Dimension int `json:"dimension"`
	// Entries is the number of stored entries.
	Entries int `json:"entries"`
	// BuiltAt is when the generation became active.
	BuiltAt time.Time `json:"built_at"`
}

// Status is a point-in-time snapshot of the Service.
type Status struct {
	// State is the lifecycle state of the active index ("empty" when none).
	State string `json:"state"`
	// Rebuilding is true while a rebuild or ingest holds the write lock.
	Rebuilding bool `json:"rebuilding"`
	// Active describes the active generation; nil when the service is empty.
	Active *GenerationInfo `json:"active,omitempty"`
}

// generation is an active index plus its bookkeeping.
type generation struct {
	// info is the immutable description captured at activation.
	info GenerationInfo
	// index is the live index.
	index VectorIndex
	// entries tracks the populated size for top_k clamping.
	entries atomic.Int64

	// readers is held shared by Retrieve and Scan for their whole
	// embed-and-search, and exclusively by retire.
	readers sync.RWMutex
	// retired is set under readers once the generation has been swapped out.
	retired bool
}

// retire waits for in-flight readers of g and marks it retired so later
// readers move on to the current generation.
func (g *generation) retire() {
	g.readers.Lock()
	g.retired = true
	g.readers.Unlock()
}

// reinstate undoes retire.
func (g *generation) reinstate() {
	g.readers.Lock()
	g.retired = false
	g.readers.Unlock()
}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	// Embedder embeds corpus texts and queries. Required.
	Embedder Embedder

	// Factory creates a fresh index per rebuild generation. Required.
	Factory IndexFactory

	// Manifest records the active generation. Optional.
	Manifest Manifest

	// Metrics receives retrieval and rebuild observations. Optional.
	Metrics *Metrics
}

// Service is the retrieval engine. It owns the active index generation,
// embeds corpora at ingestion time and queries at retrieval time, and
// classifies results before returning them.
//
// Readers pin the active generation for the duration of a query, and a
// superseded generation is only dropped once its readers have finished.
// Writers (Ingest, Rebuild, Drop) are serialized and a second concurrent
// writer is rejected with ErrRebuildInProgress rather than queued.
type Service struct {
	// embedder embeds texts and queries.
	embedder Embedder
	// factory creates index generations.
	factory IndexFactory
	// manifest persists the active generation; may be nil.
	manifest Manifest
	// metrics records observations; may be nil.
	metrics *Metrics

	// active is the generation served to readers; nil when empty.
	active atomic.Pointer[generation]
	// writeMu allows a single in-flight writer.
	writeMu sync.Mutex
	// writing mirrors writeMu for Status.
	writing atomic.Bool
	// newGenerationID returns a unique generation id. Overridden in tests.
	newGenerationID func() string
}

// NewService constructs an empty Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("rag: index factory must not be nil")
	}
	return &Service{
		embedder:        cfg.Embedder,
		factory:         cfg.Factory,
		manifest:        cfg.Manifest,
		metrics:         cfg.Metrics,
		newGenerationID: defaultGenerationID,
	}, nil
}

// defaultGenerationID returns a sortable, collection-name-safe id such as
// "20250101t120000-1a2b3c4d".
func defaultGenerationID() string {
	return time.Now().UTC().Format("20060102t150405") + "-" + uuid.NewString()[:8]
}

// Adopt installs an already built index (for example a Qdrant collection
// re-attached from the manifest) as the active generation.
func (s *Service) Adopt(ctx context.Context, idx VectorIndex, info GenerationInfo) error {
	if idx.State() != StateReady {
		return fmt.Errorf("rag: adopt %q: %w", idx.Name(), ErrIndexNotReady)
	}
	n, err := idx.Len(ctx)
	if err != nil {
		return fmt.Errorf("rag: adopt %q: %w", idx.Name(), err)
	}
	info.Index = idx.Name()
	info.Dimension = idx.Dimension()
	info.Entries = n

	g := &generation{info: info, index: idx}
	g.entries.Store(int64(n))
	if old := s.active.Swap(g); old != nil {
		old.retire()
		_ = old.index.Close()
	}
	s.metrics.setEntries(n)
	return nil
}

// acquire pins the active generation for reading. The caller must call
// release on a non-nil result.
func (s *Service) acquire() *generation {
	for {
		g := s.active.Load()
		if g == nil {
			return nil
		}
		g.readers.RLock()
		if !g.retired {
			return g
		}
		// Swapped out between Load and RLock; the new generation is
		// already published.
		g.readers.RUnlock()
	}
}

func (g *generation) release() { g.readers.RUnlock() }

// lockWriter acquires the writer lock or reports ErrRebuildInProgress.
func (s *Service) lockWriter() (func(), error) {
	if !s.writeMu.TryLock() {
		return nil, ErrRebuildInProgress
	}
	s.writing.Store(true)
	return func() {
		s.writing.Store(false)
		s.writeMu.Unlock()
	}, nil
}

// Ingest embeds texts in a single batch and appends them to the active
// index, building a first generation when the service is empty.
func (s *Service) Ingest(ctx context.Context, texts []string) error {
	unlock, err := s.lockWriter()
	if err != nil {
		return fmt.Errorf("rag: ingest: %w", err)
	}
	defer unlock()

	g := s.active.Load()
	if g == nil {
		idx, err := s.newIndex(ctx)
		if err != nil {
			return err
		}
		if err := s.fill(ctx, idx, texts); err != nil {
			s.discard(ctx, idx)
			return err
		}
		_, err = s.activate(ctx, idx)
		return err
	}

	if err := s.fill(ctx, g.index, texts); err != nil {
		return err
	}
	n, err := g.index.Len(ctx)
	if err != nil {
		return fmt.Errorf("rag: ingest: %w", err)
	}
	g.entries.Store(int64(n))
	s.metrics.setEntries(n)
	return nil
}

// Rebuild replaces the active index with a freshly built one. The new
// generation is fully populated before it is swapped in, so concurrent
// readers observe either the old or the new corpus, never a partial one.
// The superseded generation is dropped afterwards.
func (s *Service) Rebuild(ctx context.Context, texts []string) (GenerationInfo, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	unlock, err := s.lockWriter()
	if err != nil {
		s.metrics.observeRebuild("rejected", 0)
		return GenerationInfo{}, fmt.Errorf("rag: rebuild: %w", err)
	}
	defer unlock()

	info, err := s.rebuild(ctx, texts)
	if err != nil {
		s.metrics.observeRebuild(outcomeError, 0)
		log.Error("rag: rebuild failed", slog.Any("error", err))
		return GenerationInfo{}, err
	}

	s.metrics.observeRebuild(outcomeOK, time.Since(start).Seconds())
	log.Info("rag: rebuild complete",
		slog.String("index", info.Index),
		slog.Int("entries", info.Entries),
		slog.String("model", info.Model),
		slog.Duration("duration", time.Since(start)),
	)
	return info, nil
}

// rebuild performs build-into-new then swap. Caller holds the writer lock.
func (s *Service) rebuild(ctx context.Context, texts []string) (GenerationInfo, error) {
	idx, err := s.newIndex(ctx)
	if err != nil {
		return GenerationInfo{}, err
	}
	if err := s.fill(ctx, idx, texts); err != nil {
		s.discard(ctx, idx)
		return GenerationInfo{}, err
	}
	return s.activate(ctx, idx)
}

// newIndex creates and builds a fresh generation index.
func (s *Service) newIndex(ctx context.Context) (VectorIndex, error) {
	idx, err := s.factory(ctx, s.newGenerationID())
	if err != nil {
		return nil, fmt.Errorf("rag: create index: %w", err)
	}
	if idx.Dimension() != s.embedder.Dimension() {
		return nil, fmt.Errorf("rag: index %q has dimension %d but model %q produces %d: %w",
			idx.Name(), idx.Dimension(), s.embedder.Model(), s.embedder.Dimension(), ErrDimensionMismatch)
	}
	if err := idx.Build(ctx); err != nil {
		return nil, fmt.Errorf("rag: build index %q: %w", idx.Name(), asTimeout(ctx, err))
	}
	return idx, nil
}

// fill filters, embeds and inserts texts into idx.
func (s *Service) fill(ctx context.Context, idx VectorIndex, texts []string) error {
	log := logging.FromContext(ctx)

	texts = s.storable(ctx, idx, texts)
	if len(texts) == 0 {
		return fmt.Errorf("rag: ingest: %w", ErrEmptyInput)
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("rag: embedding corpus failed: %w", asTimeout(ctx, err))
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("rag: embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	if err := idx.Insert(ctx, vectors, texts); err != nil {
		return fmt.Errorf("rag: insert into %q failed: %w", idx.Name(), asTimeout(ctx, err))
	}

	log.Info("rag: corpus ingested",
		slog.String("index", idx.Name()),
		slog.Int("records", len(texts)),
	)
	return nil
}

// storable drops texts the index cannot hold, logging each one.
func (s *Service) storable(ctx context.Context, idx VectorIndex, texts []string) []string {
	limiter, ok := idx.(TextLimiter)
	if !ok || limiter.MaxTextLength() <= 0 {
		return texts
	}
	limit := limiter.MaxTextLength()
	log := logging.FromContext(ctx)

	out := make([]string, 0, len(texts))
	for i, t := range texts {
		if len(t) > limit {
			log.Warn("rag: skipping record above index text limit",
				slog.Int("record", i),
				slog.Int("bytes", len(t)),
				slog.Int("limit", limit),
			)
			continue
		}
		out = append(out, t)
	}
	s.metrics.skipped(len(texts) - len(out))
	return out
}

// activate swaps idx in as the active generation and drops the previous one.
func (s *Service) activate(ctx context.Context, idx VectorIndex) (GenerationInfo, error) {
	n, err := idx.Len(ctx)
	if err != nil {
		s.discard(ctx, idx)
		return GenerationInfo{}, fmt.Errorf("rag: count %q: %w", idx.Name(), err)
	}

	g := &generation{
		info: GenerationInfo{
			ID:        idx.Name(),
			Index:     idx.Name(),
			Model:     s.embedder.Model(),
			Dimension: idx.Dimension(),
			Entries:   n,
			BuiltAt:   time.Now().UTC(),
		},
		index: idx,
	}
	g.entries.Store(int64(n))

	old := s.active.Swap(g)
	s.metrics.setEntries(n)

	log := logging.FromContext(ctx)
	if s.manifest != nil {
		if err := s.manifest.Activate(ctx, g.info); err != nil {
			log.Warn("rag: failed to record active generation", slog.String("index", idx.Name()), slog.Any("error", err))
		}
	}
	if old != nil {
		old.retire()
		s.discard(ctx, old.index)
		if s.manifest != nil {
			if err := s.manifest.Deactivate(ctx, old.info.Index); err != nil {
				log.Warn("rag: failed to record superseded generation", slog.String("index", old.info.Index), slog.Any("error", err))
			}
		}
	}
	return g.info, nil
}

// discard drops and closes idx on a context detached from the caller's
// cancellation, logging rather than returning failures.
func (s *Service) discard(ctx context.Context, idx VectorIndex) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropTimeout)
	defer cancel()

	if err := idx.Drop(dctx); err != nil {
		logging.FromContext(ctx).Warn("rag: failed to drop index", slog.String("index", idx.Name()), slog.Any("error", err))
	}
	_ = idx.Close()
}

// Retrieve embeds query, searches the active index for the topK nearest
// entries and classifies each one. topK is clamped to [1, entries].
//
// An empty or never-built index yields an empty slice and a nil error; the
// condition is logged and counted as "not_ready" so it stays
// distinguishable from a genuine "no_match". Backend and embedding failures
// are returned to the caller.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	g := s.acquire()
	if g != nil {
		defer g.release()
	}
	entries := 0
	if g != nil && g.index.State() == StateReady {
		entries = int(g.entries.Load())
	}
	if entries == 0 {
		s.metrics.observeRetrieval(outcomeNotReady, time.Since(start).Seconds())
		log.Info("rag: retrieve against empty index", slog.Any("reason", ErrIndexNotReady))
		return []Result{}, nil
	}

	k := max(topK, 1)
	k = min(k, entries)

	vec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		err = asTimeout(ctx, err)
		s.metrics.observeRetrieval(failureOutcome(err), time.Since(start).Seconds())
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	hits, err := g.index.Search(ctx, vec, k)
	if err != nil {
		err = asTimeout(ctx, err)
		s.metrics.observeRetrieval(failureOutcome(err), time.Since(start).Seconds())
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Type:     Classify(query, h.Text),
			Content:  h.Text,
			Distance: h.Distance,
		})
	}

	outcome := outcomeOK
	if len(results) == 0 {
		outcome = outcomeNoMatch
	}
	s.metrics.observeRetrieval(outcome, time.Since(start).Seconds())
	log.Debug("rag: retrieve",
		slog.String("index", g.info.Index),
		slog.Int("top_k", k),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// failureOutcome maps an error to its metrics outcome label.
func failureOutcome(err error) string {
	if errors.Is(err, ErrTimeout) {
		return outcomeTimeout
	}
	return outcomeError
}

// Drop removes the active index, returning the service to Empty. When the
// backend refuses the drop the generation stays active.
func (s *Service) Drop(ctx context.Context) error {
	unlock, err := s.lockWriter()
	if err != nil {
		return fmt.Errorf("rag: drop: %w", err)
	}
	defer unlock()

	g := s.active.Swap(nil)
	if g == nil {
		s.metrics.setEntries(0)
		return nil
	}
	g.retire()
	if err := g.index.Drop(ctx); err != nil {
		g.reinstate()
		s.active.Store(g)
		return fmt.Errorf("rag: drop %q: %w", g.info.Index, asTimeout(ctx, err))
	}
	s.metrics.setEntries(0)
	_ = g.index.Close()
	if s.manifest != nil {
		if err := s.manifest.Deactivate(ctx, g.info.Index); err != nil {
			return fmt.Errorf("rag: drop %q: %w", g.info.Index, err)
		}
	}
	return nil
}

// Scan returns up to limit stored entries of the active index.
func (s *Service) Scan(ctx context.Context, limit int) ([]Entry, error) {
	g := s.acquire()
	if g == nil {
		return []Entry{}, nil
	}
	defer g.release()
	entries, err := g.index.ScanAll(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("rag: scan %q: %w", g.info.Index, err)
	}
	return entries, nil
}

// Status returns a snapshot of the active generation.
func (s *Service) Status() Status {
	st := Status{State: StateEmpty.String(), Rebuilding: s.writing.Load()}
	g := s.active.Load()
	if g == nil {
		return st
	}
	info := g.info
	info.Entries = int(g.entries.Load())
	st.State = g.index.State().String()
	st.Active = &info
	return st
}

// Embedder returns the embedder the service was built with.
func (s *Service) Embedder() Embedder { return s.embedder }

// Close releases the active index's client resources without dropping data.
func (s *Service) Close() error {
	g := s.active.Load()
	if g == nil {
		return nil
	}
	return g.index.Close()
}
