package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/kbrag-go/internal/config"
	"github.com/54b3r/kbrag-go/internal/embedder"
	"github.com/54b3r/kbrag-go/internal/ingestion"
	"github.com/54b3r/kbrag-go/internal/rag"
	"github.com/54b3r/kbrag-go/internal/store"
)

const (
	backendFlat   = "flat"
	backendQdrant = "qdrant"
)

// runtime is the retrieval stack shared by every command: the embedding
// model, the retrieval service over the configured index backend, the
// corpus pipeline and the optional SQLite store.
type runtime struct {
	log       *slog.Logger
	retrieval config.Retrieval
	backend   string

	model    *embedder.Model
	service  *rag.Service
	pipeline *ingestion.Pipeline

	// db is nil when KBRAG_DB=disabled or the file could not be opened.
	db *store.SQLiteStore
	// qdrant is nil for the flat backend.
	qdrant *qdrant.Client
	qcfg   rag.QdrantConfig
}

// openRuntime builds the stack from the environment and loaders. When the
// backend is Qdrant and the manifest names a collection built with the
// same model, that collection is re-attached instead of rebuilt.
func openRuntime(ctx context.Context, log *slog.Logger, loaders []ingestion.Loader, reg prometheus.Registerer) (*runtime, error) {
	rt := &runtime{
		log:       log,
		retrieval: config.RetrievalFromEnv(),
		backend:   config.IndexBackend(),
	}

	pipeline, err := ingestion.NewPipeline(loaders...)
	if err != nil {
		return nil, err
	}
	rt.pipeline = pipeline

	embCfg := embedder.ConfigFromEnv()
	if err := embedder.ValidateForRAG(embCfg, log); err != nil {
		return nil, err
	}
	model, err := embedder.New(ctx, embCfg)
	if err != nil {
		return nil, err
	}
	rt.model = model
	log.Info("embedder loaded",
		slog.String("provider", embCfg.Provider),
		slog.String("model", model.Model()),
		slog.Int("dimension", model.Dimension()),
	)

	rt.openStore()

	var factory rag.IndexFactory
	switch rt.backend {
	case backendFlat:
		factory = rag.FlatFactory(config.DefaultCollectionPrefix, model.Dimension())
	case backendQdrant:
		rt.qcfg = config.QdrantFromEnv()
		rt.qcfg.Dimension = uint64(model.Dimension()) //nolint:gosec // dimensions are small
		client, err := rag.NewQdrantClient(rt.qcfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.qdrant = client
		factory = rag.QdrantFactory(client, rt.qcfg)
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown INDEX_BACKEND %q (want flat or qdrant)", rt.backend)
	}

	svcCfg := rag.ServiceConfig{
		Embedder: model,
		Factory:  factory,
		Metrics:  rag.NewMetrics(reg),
	}
	if rt.db != nil {
		svcCfg.Manifest = rt.db
	}
	svc, err := rag.NewService(svcCfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc

	if err := rt.reattach(ctx); err != nil {
		log.Warn("could not re-attach the recorded index, a rebuild is required", slog.Any("error", err))
	}
	return rt, nil
}

// openStore opens the SQLite store unless it is disabled. An unopenable
// store degrades to running without manifest and history.
func (rt *runtime) openStore() {
	path, err := config.DBPath()
	if err != nil {
		rt.log.Warn("store: could not resolve default DB path, disabling", slog.Any("error", err))
		return
	}
	if path == "" {
		rt.log.Info("store: disabled via KBRAG_DB=disabled")
		return
	}
	db, err := store.Open(path)
	if err != nil {
		rt.log.Warn("store: failed to open, disabling", slog.String("path", path), slog.Any("error", err))
		return
	}
	rt.db = db
	rt.log.Info("store: opened", slog.String("path", path))
}

// reattach adopts the manifest's active Qdrant collection when it was built
// with the current model and dimension.
func (rt *runtime) reattach(ctx context.Context) error {
	if rt.backend != backendQdrant || rt.db == nil {
		return nil
	}
	info, found, err := rt.db.Active(ctx)
	if err != nil || !found {
		return err
	}
	if info.Model != rt.model.Model() || info.Dimension != rt.model.Dimension() {
		rt.log.Warn("embedding model changed since the last build, ignoring recorded index",
			slog.String("index", info.Index),
			slog.String("recorded_model", info.Model),
			slog.String("current_model", rt.model.Model()),
		)
		return nil
	}

	c := rt.qcfg
	c.Collection = info.Index
	idx, err := rag.NewQdrantIndex(rt.qdrant, c)
	if err != nil {
		return err
	}
	ok, err := idx.Attach(ctx)
	if err != nil {
		return err
	}
	if !ok {
		rt.log.Warn("recorded collection no longer exists", slog.String("index", info.Index))
		return nil
	}
	if err := rt.service.Adopt(ctx, idx, info); err != nil {
		return err
	}
	rt.log.Info("re-attached index", slog.String("index", info.Index), slog.Int("entries", rt.service.Status().Active.Entries))
	return nil
}

// rebuild runs the corpus pipeline into a fresh index generation.
func (rt *runtime) rebuild(ctx context.Context) (rag.GenerationInfo, error) {
	info, corpus, err := rt.pipeline.Rebuild(ctx, rt.service, func(msg string) {
		rt.log.Info(msg)
	})
	if corpus != nil && corpus.Skipped > 0 {
		rt.log.Warn("malformed records skipped", slog.Int("skipped", corpus.Skipped))
	}
	return info, err
}

// ensureIndex rebuilds when nothing is active. A Qdrant index is only built
// by `kbrag ingest` or the server, never as a side effect of a read command.
func (rt *runtime) ensureIndex(ctx context.Context) error {
	if rt.service.Status().Active != nil {
		return nil
	}
	if rt.backend == backendQdrant {
		return fmt.Errorf("no active qdrant index: run `kbrag ingest` first: %w", rag.ErrIndexNotReady)
	}
	rctx, cancel := context.WithTimeout(ctx, rt.retrieval.RebuildTimeout)
	defer cancel()
	_, err := rt.rebuild(rctx)
	return err
}

// Close releases clients without dropping any index data.
func (rt *runtime) Close() {
	var errs []error
	if rt.service != nil {
		errs = append(errs, rt.service.Close())
	}
	if rt.model != nil {
		errs = append(errs, rt.model.Close())
	}
	if rt.qdrant != nil {
		errs = append(errs, rt.qdrant.Close())
	}
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.log.Warn("shutdown: failed to release resources", slog.Any("error", err))
	}
}
