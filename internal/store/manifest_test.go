package store

import (
	"context"
	"testing"
	"time"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// The SQLite store is the production rag.Manifest.
var _ rag.Manifest = (*SQLiteStore)(nil)

func generation(id string, built time.Time) rag.GenerationInfo {
	return rag.GenerationInfo{
		ID:        id,
		Index:     "kbrag_" + id,
		Model:     "all-minilm",
		Dimension: 384,
		Entries:   10,
		BuiltAt:   built,
	}
}

func TestStore_ActiveEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, found, err := s.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if found {
		t.Error("want no active generation on a fresh store")
	}
}

func TestStore_ActivateSwapsActive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Activate(ctx, generation("g1", t0)); err != nil {
		t.Fatalf("activate g1: %v", err)
	}
	if err := s.Activate(ctx, generation("g2", t0.Add(time.Hour))); err != nil {
		t.Fatalf("activate g2: %v", err)
	}

	got, found, err := s.Active(ctx)
	if err != nil || !found {
		t.Fatalf("active: found=%v err=%v", found, err)
	}
	if got.ID != "g2" || got.Index != "kbrag_g2" || got.Dimension != 384 || got.Model != "all-minilm" {
		t.Errorf("active: %+v", got)
	}
	if !got.BuiltAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("built_at: %v", got.BuiltAt)
	}

	all, err := s.Generations(ctx, 10)
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	if len(all) != 2 || all[0].ID != "g2" || all[1].ID != "g1" {
		t.Errorf("generations newest-first: %+v", all)
	}
}

func TestStore_DeactivateClearsActive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	g := generation("g1", time.Now())
	if err := s.Activate(ctx, g); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.Deactivate(ctx, g.Index); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, found, _ := s.Active(ctx); found {
		t.Error("want no active generation after deactivate")
	}
	if err := s.Deactivate(ctx, "never-existed"); err != nil {
		t.Errorf("deactivating an unknown index: %v", err)
	}
}

func TestStore_ReactivateSameIndexUpdates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	g := generation("g1", time.Now())
	_ = s.Activate(ctx, g)
	g.Entries = 42
	if err := s.Activate(ctx, g); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	got, _, _ := s.Active(ctx)
	if got.Entries != 42 {
		t.Errorf("entries: want 42, got %d", got.Entries)
	}
}

// TestStore_ManifestBehindService checks the manifest rows a Service
// writes across a rebuild and a drop.
func TestStore_ManifestBehindService(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	svc, err := rag.NewService(rag.ServiceConfig{
		Embedder: fixedEmbedder{},
		Factory:  rag.FlatFactory("kbrag", 2),
		Manifest: s,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	first, err := svc.Rebuild(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	second, err := svc.Rebuild(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	active, found, _ := s.Active(ctx)
	if !found || active.Index != second.Index || active.Entries != 3 {
		t.Errorf("active after rebuild: %+v (first was %s)", active, first.Index)
	}

	if err := svc.Drop(ctx); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, found, _ := s.Active(ctx); found {
		t.Error("want no active generation after drop")
	}
}

// fixedEmbedder maps every text to a 2-dim vector derived from its length.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e fixedEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (fixedEmbedder) Dimension() int { return 2 }
func (fixedEmbedder) Model() string  { return "fixed" }
