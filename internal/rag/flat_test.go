package rag

import (
	"context"
	"errors"
	"testing"
)

func TestFlatIndex_Contract(t *testing.T) {
	t.Parallel()
	runIndexContract(t, func(t *testing.T) VectorIndex {
		t.Helper()
		idx, err := NewFlatIndex("contract", 4)
		if err != nil {
			t.Fatalf("new flat index: %v", err)
		}
		return idx
	})
}

func TestFlatIndex_RejectsNonPositiveDimension(t *testing.T) {
	t.Parallel()
	if _, err := NewFlatIndex("bad", 0); err == nil {
		t.Fatal("want error for zero dimension")
	}
}

func TestFlatIndex_SquaredDistanceAndStableTies(t *testing.T) {
	t.Parallel()
	idx, _ := NewFlatIndex("ties", 2)
	ctx := t.Context()
	_ = idx.Build(ctx)

	// "first" and "second" are equidistant from the query.
	err := idx.Insert(ctx,
		[][]float32{{1, 0}, {-1, 0}, {3, 0}},
		[]string{"first", "second", "far"},
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	hits, err := idx.Search(ctx, []float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits[0].Text != "first" || hits[1].Text != "second" || hits[2].Text != "far" {
		t.Errorf("order: got [%s %s %s]", hits[0].Text, hits[1].Text, hits[2].Text)
	}
	if hits[2].Distance != 9 {
		t.Errorf("squared distance: want 9, got %v", hits[2].Distance)
	}
}

func TestFlatIndex_CancelledContext(t *testing.T) {
	t.Parallel()
	idx, _ := NewFlatIndex("cancel", 1)
	_ = idx.Build(t.Context())
	_ = idx.Insert(t.Context(), [][]float32{{1}}, []string{"x"})

	ctx, cancel := context.WithTimeout(t.Context(), 0)
	defer cancel()
	<-ctx.Done()

	_, err := idx.Search(ctx, []float32{1}, 1)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("want ErrTimeout, got %v", err)
	}
}

func TestFlatFactory_NamesGenerations(t *testing.T) {
	t.Parallel()
	idx, err := FlatFactory("kb", 3)(t.Context(), "g1")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if idx.Name() != "kb-g1" {
		t.Errorf("name: want kb-g1, got %s", idx.Name())
	}
	if idx.Dimension() != 3 {
		t.Errorf("dimension: want 3, got %d", idx.Dimension())
	}
}
