package rag

import (
	"context"
	"errors"
	"testing"
)

// runIndexContract exercises the VectorIndex behaviour every backend must
// share. newIndex must return a fresh, unbuilt index of dimension 4.
func runIndexContract(t *testing.T, newIndex func(t *testing.T) VectorIndex) {
	t.Helper()

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	texts := []string{"alpha", "beta", "gamma"}

	build := func(t *testing.T) VectorIndex {
		t.Helper()
		idx := newIndex(t)
		if err := idx.Build(t.Context()); err != nil {
			t.Fatalf("build: %v", err)
		}
		if err := idx.Insert(t.Context(), vectors, texts); err != nil {
			t.Fatalf("insert: %v", err)
		}
		return idx
	}

	t.Run("SearchUnbuiltReturnsEmpty", func(t *testing.T) {
		idx := newIndex(t)
		if idx.State() != StateEmpty {
			t.Fatalf("state: want empty, got %s", idx.State())
		}
		hits, err := idx.Search(t.Context(), []float32{1, 0, 0, 0}, 3)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if hits == nil || len(hits) != 0 {
			t.Errorf("want empty non-nil slice, got %#v", hits)
		}
	})

	t.Run("InsertUnbuiltIsNotReady", func(t *testing.T) {
		idx := newIndex(t)
		err := idx.Insert(t.Context(), vectors[:1], texts[:1])
		if !errors.Is(err, ErrIndexNotReady) {
			t.Errorf("want ErrIndexNotReady, got %v", err)
		}
	})

	t.Run("SearchBuiltButEmpty", func(t *testing.T) {
		idx := newIndex(t)
		if err := idx.Build(t.Context()); err != nil {
			t.Fatalf("build: %v", err)
		}
		t.Cleanup(func() { _ = idx.Drop(context.Background()) })

		hits, err := idx.Search(t.Context(), []float32{1, 0, 0, 0}, 5)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("want no hits, got %d", len(hits))
		}
	})

	t.Run("NearestFirst", func(t *testing.T) {
		idx := build(t)
		t.Cleanup(func() { _ = idx.Drop(context.Background()) })

		hits, err := idx.Search(t.Context(), []float32{0.1, 0.9, 0, 0}, 2)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("want 2 hits, got %d", len(hits))
		}
		if hits[0].Text != "beta" || hits[1].Text != "alpha" {
			t.Errorf("order: want [beta alpha], got [%s %s]", hits[0].Text, hits[1].Text)
		}
		if hits[0].Distance > hits[1].Distance {
			t.Errorf("distances not ascending: %v > %v", hits[0].Distance, hits[1].Distance)
		}
	})

	t.Run("KAboveSizeReturnsAll", func(t *testing.T) {
		idx := build(t)
		t.Cleanup(func() { _ = idx.Drop(context.Background()) })

		hits, err := idx.Search(t.Context(), []float32{0, 0, 1, 0}, 50)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != len(texts) {
			t.Errorf("want %d hits, got %d", len(texts), len(hits))
		}
		if len(hits) > 0 && hits[0].Text != "gamma" {
			t.Errorf("nearest: want gamma, got %s", hits[0].Text)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		idx := build(t)
		t.Cleanup(func() { _ = idx.Drop(context.Background()) })

		err := idx.Insert(t.Context(), [][]float32{{1, 2}}, []string{"short"})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("insert: want ErrDimensionMismatch, got %v", err)
		}
		_, err = idx.Search(t.Context(), []float32{1, 2, 3}, 1)
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("search: want ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("LenAndScan", func(t *testing.T) {
		idx := build(t)
		t.Cleanup(func() { _ = idx.Drop(context.Background()) })

		n, err := idx.Len(t.Context())
		if err != nil {
			t.Fatalf("len: %v", err)
		}
		if n != len(texts) {
			t.Errorf("len: want %d, got %d", len(texts), n)
		}

		entries, err := idx.ScanAll(t.Context(), 0)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		got := map[string]bool{}
		for _, e := range entries {
			got[e.Text] = true
		}
		for _, want := range texts {
			if !got[want] {
				t.Errorf("scan: missing %q", want)
			}
		}

		limited, err := idx.ScanAll(t.Context(), 2)
		if err != nil {
			t.Fatalf("scan limited: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("scan limit 2: got %d entries", len(limited))
		}
	})

	t.Run("DropReturnsToEmpty", func(t *testing.T) {
		idx := build(t)
		if err := idx.Drop(t.Context()); err != nil {
			t.Fatalf("drop: %v", err)
		}
		if idx.State() != StateEmpty {
			t.Errorf("state after drop: want empty, got %s", idx.State())
		}
		hits, err := idx.Search(t.Context(), []float32{1, 0, 0, 0}, 3)
		if err != nil {
			t.Fatalf("search after drop: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("want no hits after drop, got %d", len(hits))
		}
	})
}
