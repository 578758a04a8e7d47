package rag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/qdrant/go-client/qdrant"
)

// Qdrant defaults. The HNSW values match Qdrant's own defaults; ScanLimit
// bounds ScanAll the same way the debugging dump always has.
const (
	defaultQdrantHost      = "localhost"
	defaultQdrantPort      = 6334
	defaultHNSWM           = 16
	defaultHNSWEfConstruct = 100
	defaultSearchEf        = 64
	defaultInsertBatch     = 256
	defaultScanLimit       = 1000
)

// QdrantConfig holds connection and index parameters for a Qdrant collection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection name, or the name prefix when used
	// through QdrantFactory.
	Collection string

	// Dimension is the vector size the collection is created with.
	Dimension uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// HNSWM is the number of graph edges per node (default: 16).
	HNSWM uint64

	// HNSWEfConstruct is the build-time candidate list size (default: 100).
	HNSWEfConstruct uint64

	// SearchEf is the query-time candidate list size. Higher values trade
	// speed for recall (default: 64).
	SearchEf uint64

	// MaxTextLength caps the payload size in bytes. Zero means unlimited.
	MaxTextLength int

	// InsertBatch is the number of points sent per upsert call (default: 256).
	InsertBatch int
}

// withDefaults returns a copy of cfg with zero fields filled in.
func (c QdrantConfig) withDefaults() QdrantConfig {
	if c.Host == "" {
		c.Host = defaultQdrantHost
	}
	if c.Port == 0 {
		c.Port = defaultQdrantPort
	}
	if c.HNSWM == 0 {
		c.HNSWM = defaultHNSWM
	}
	if c.HNSWEfConstruct == 0 {
		c.HNSWEfConstruct = defaultHNSWEfConstruct
	}
	if c.SearchEf == 0 {
		c.SearchEf = defaultSearchEf
	}
	if c.InsertBatch <= 0 {
		c.InsertBatch = defaultInsertBatch
	}
	return c
}

// NewQdrantClient opens a gRPC client for the given configuration.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	cfg = cfg.withDefaults()
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: failed to create client: %w", err)
	}
	return client, nil
}

// QdrantIndex is a VectorIndex backed by one Qdrant collection with an HNSW
// index under the Euclid metric. Points carry a numeric auto-increment id
// and a single "text" payload field.
type QdrantIndex struct {
	// client is the shared Qdrant gRPC client. Not owned by the index.
	client *qdrant.Client
	// cfg holds the resolved configuration; cfg.Collection is this index's name.
	cfg QdrantConfig

	// mu serializes lifecycle transitions.
	mu sync.Mutex
	// state is the lifecycle state.
	state IndexState
	// nextID is the next point id to assign. IDs are never reused within a
	// collection.
	nextID atomic.Uint64
}

// NewQdrantIndex returns an Empty index for cfg.Collection. Call Build to
// create the collection or Attach to adopt an existing one.
func NewQdrantIndex(client *qdrant.Client, cfg QdrantConfig) (*QdrantIndex, error) {
	if client == nil {
		return nil, fmt.Errorf("rag: qdrant: client must not be nil")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("rag: qdrant: collection name must not be empty")
	}
	if cfg.Dimension == 0 {
		return nil, fmt.Errorf("rag: qdrant: dimension must be positive")
	}
	idx := &QdrantIndex{client: client, cfg: cfg.withDefaults()}
	idx.nextID.Store(1)
	return idx, nil
}

// QdrantFactory returns an IndexFactory that builds each generation into its
// own collection named "<prefix>_<generation>".
func QdrantFactory(client *qdrant.Client, cfg QdrantConfig) IndexFactory {
	return func(_ context.Context, generation string) (VectorIndex, error) {
		c := cfg
		c.Collection = cfg.Collection + "_" + generation
		return NewQdrantIndex(client, c)
	}
}

// Name returns the collection name.
func (q *QdrantIndex) Name() string { return q.cfg.Collection }

// Dimension returns the collection vector size.
func (q *QdrantIndex) Dimension() int { return int(q.cfg.Dimension) } //nolint:gosec // dimensions are small

// MaxTextLength returns the payload byte limit, zero when unlimited.
func (q *QdrantIndex) MaxTextLength() int { return q.cfg.MaxTextLength }

// State returns the lifecycle state.
func (q *QdrantIndex) State() IndexState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Attach adopts an existing collection, marking the index Ready and
// continuing id assignment after the stored points. It reports false when
// the collection does not exist.
func (q *QdrantIndex) Attach(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return false, fmt.Errorf("rag: qdrant: failed to check collection %q: %w", q.cfg.Collection, classifyBackendErr(err))
	}
	if !exists {
		return false, nil
	}
	n, err := q.count(ctx)
	if err != nil {
		return false, err
	}
	q.nextID.Store(n + 1)
	q.state = StateReady
	return true, nil
}

// Build creates the collection and its HNSW index. A leftover collection
// with the same name is deleted first so the build always starts empty.
func (q *QdrantIndex) Build(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateReady {
		return nil
	}
	q.state = StateBuilding

	if err := q.build(ctx); err != nil {
		q.state = StateEmpty
		return err
	}
	q.nextID.Store(1)
	q.state = StateReady
	return nil
}

// build performs the collection creation RPCs. Caller must hold mu.
func (q *QdrantIndex) build(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("rag: qdrant: failed to check collection %q: %w", q.cfg.Collection, classifyBackendErr(err))
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.cfg.Collection); err != nil {
			return fmt.Errorf("rag: qdrant: failed to delete stale collection %q: %w", q.cfg.Collection, classifyBackendErr(err))
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.Dimension,
			Distance: qdrant.Distance_Euclid,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           qdrant.PtrOf(q.cfg.HNSWM),
				EfConstruct: qdrant.PtrOf(q.cfg.HNSWEfConstruct),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: failed to create collection %q: %w", q.cfg.Collection, classifyBackendErr(err))
	}
	return nil
}

// Insert upserts vectors and texts in batches of cfg.InsertBatch, waiting
// for each batch to be applied so entries are searchable on return.
func (q *QdrantIndex) Insert(ctx context.Context, vectors [][]float32, texts []string) error {
	if len(vectors) == 0 {
		return fmt.Errorf("rag: qdrant insert: %w", ErrEmptyInput)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("rag: qdrant insert: %d vectors but %d texts", len(vectors), len(texts))
	}
	dim := q.Dimension()
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("rag: qdrant insert: vector %d has length %d, collection is %d: %w", i, len(v), dim, ErrDimensionMismatch)
		}
		if q.cfg.MaxTextLength > 0 && len(texts[i]) > q.cfg.MaxTextLength {
			return fmt.Errorf("rag: qdrant insert: text %d is %d bytes, limit %d: %w", i, len(texts[i]), q.cfg.MaxTextLength, ErrMalformedRecord)
		}
	}
	if q.State() != StateReady {
		return fmt.Errorf("rag: qdrant insert into %q: %w", q.cfg.Collection, ErrIndexNotReady)
	}

	for start := 0; start < len(vectors); start += q.cfg.InsertBatch {
		end := min(start+q.cfg.InsertBatch, len(vectors))

		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			id := q.nextID.Add(1) - 1
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(id),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(map[string]any{"text": texts[i]}),
			})
		}

		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("rag: qdrant: upsert of %d points failed: %w", len(points), classifyBackendErr(err))
		}
	}
	return nil
}

// Search queries the HNSW index with the configured ef and returns hits by
// ascending Euclidean distance.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != q.Dimension() {
		return nil, fmt.Errorf("rag: qdrant search: query has length %d, collection is %d: %w", len(query), q.Dimension(), ErrDimensionMismatch)
	}
	if q.State() != StateReady || k <= 0 {
		return []Hit{}, nil
	}

	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Params: &qdrant.SearchParams{
			HnswEf: qdrant.PtrOf(q.cfg.SearchEf),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: search failed: %w", classifyBackendErr(err))
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:       r.GetId().GetNum(),
			Text:     r.GetPayload()["text"].GetStringValue(),
			Distance: r.GetScore(),
		})
	}
	return hits, nil
}

// Len returns the exact number of points in the collection.
func (q *QdrantIndex) Len(ctx context.Context) (int, error) {
	if q.State() != StateReady {
		return 0, nil
	}
	n, err := q.count(ctx)
	if err != nil {
		return 0, err
	}
	return int(n), nil //nolint:gosec // corpus sizes fit in int
}

// count runs an exact CountPoints RPC.
func (q *QdrantIndex) count(ctx context.Context) (uint64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("rag: qdrant: count failed: %w", classifyBackendErr(err))
	}
	return n, nil
}

// ScanAll scrolls up to limit points (default 1000) with their text payload.
// Intended for inspection, not for query paths.
func (q *QdrantIndex) ScanAll(ctx context.Context, limit int) ([]Entry, error) {
	if q.State() != StateReady {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}

	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.cfg.Collection,
		Limit:          qdrant.PtrOf(uint32(limit)), //nolint:gosec // bounded by caller
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: scroll failed: %w", classifyBackendErr(err))
	}

	out := make([]Entry, 0, len(points))
	for _, p := range points {
		out = append(out, Entry{
			ID:   p.GetId().GetNum(),
			Text: p.GetPayload()["text"].GetStringValue(),
		})
	}
	return out, nil
}

// Drop deletes the collection. Dropping an Empty index is a no-op.
func (q *QdrantIndex) Drop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("rag: qdrant: failed to check collection %q: %w", q.cfg.Collection, classifyBackendErr(err))
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.cfg.Collection); err != nil {
			return fmt.Errorf("rag: qdrant: failed to drop collection %q: %w", q.cfg.Collection, classifyBackendErr(err))
		}
	}
	q.state = StateEmpty
	q.nextID.Store(1)
	return nil
}

// Close is a no-op: the client is shared and closed by its owner.
func (q *QdrantIndex) Close() error { return nil }
