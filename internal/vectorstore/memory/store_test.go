package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ragsql/ragsql/internal/vectorstore"
)

func vec(values ...float32) []float32 {
	out := make([]float32, vectorstore.Dimensions)
	copy(out, values)
	return out
}

func chunk(id, source, table string, embedding []float32) vectorstore.Chunk {
	return vectorstore.Chunk{
		ID:          id,
		Source:      source,
		SourceTable: table,
		Key:         "table",
		Kind:        "table",
		Text:        "Table " + table,
		Embedding:   embedding,
	}
}

func TestSearchRanksByCosineWithIDTieBreak(t *testing.T) {
	ctx := context.Background()
	store := New()
	err := store.ReplaceSource(ctx, "app", []vectorstore.Chunk{
		chunk("c", "app", "public.c", vec(1, 1)),
		chunk("a", "app", "public.a", vec(0, 1)),
		chunk("b", "app", "public.b", vec(1, 0)),
		chunk("d", "app", "public.d", vec(1, 1)),
	})
	if err != nil {
		t.Fatalf("ReplaceSource() error = %v", err)
	}

	matches, err := store.Search(ctx, vec(1, 0), 4, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []string{"b", "c", "d", "a"}
	for i, id := range want {
		if matches[i].Chunk.ID != id {
			t.Fatalf("Search()[%d] = %q, want %q (matches %+v)", i, matches[i].Chunk.ID, id, matches)
		}
	}
	if matches[0].Score != 1 || matches[3].Score != 0 {
		t.Fatalf("scores = %v .. %v", matches[0].Score, matches[3].Score)
	}

	again, err := store.Search(ctx, vec(1, 0), 2, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(again) != 2 || again[0].Chunk.ID != "b" || again[1].Chunk.ID != "c" {
		t.Fatalf("Search(k=2) = %+v", again)
	}
}

func TestSearchEuclidean(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Upsert(ctx, []vectorstore.Chunk{
		chunk("far", "app", "public.far", vec(3, 4)),
		chunk("near", "app", "public.near", vec(0, 1)),
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	matches, err := store.Search(ctx, vec(0, 0), 2, vectorstore.MetricEuclidean)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if matches[0].Chunk.ID != "near" || matches[0].Score != 0.5 || matches[1].Score != 1.0/6 {
		t.Fatalf("Search() = %+v", matches)
	}
}

func TestSearchEmptyStoreAndInvalidK(t *testing.T) {
	ctx := context.Background()
	store := New()
	matches, err := store.Search(ctx, vec(1), 3, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("Search() = %+v, want empty", matches)
	}
	if _, err := store.Search(ctx, vec(1), 0, vectorstore.MetricCosine); !errors.Is(err, vectorstore.ErrInvalidK) {
		t.Fatalf("Search() error = %v, want ErrInvalidK", err)
	}
}

func TestReplaceSourceIsIdempotentAndScoped(t *testing.T) {
	ctx := context.Background()
	store := New()
	chunks := []vectorstore.Chunk{
		chunk("u", "app", "public.users", vec(1)),
		chunk("o", "app", "public.orders", vec(0, 1)),
	}
	for i := 0; i < 2; i++ {
		if err := store.ReplaceSource(ctx, "app", chunks); err != nil {
			t.Fatalf("ReplaceSource() error = %v", err)
		}
	}
	if err := store.ReplaceSource(ctx, "billing", []vectorstore.Chunk{chunk("i", "billing", "public.invoices", vec(0, 0, 1))}); err != nil {
		t.Fatalf("ReplaceSource() error = %v", err)
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Fatalf("Count() = %d, want 3", n)
	}

	if err := store.ReplaceSource(ctx, "app", chunks[:1]); err != nil {
		t.Fatalf("ReplaceSource() error = %v", err)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Fatalf("Count() after shrink = %d, want 2", n)
	}

	sources, err := store.Sources(ctx)
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	if len(sources) != 2 || sources[0].Source != "app" || sources[0].Chunks != 1 || sources[1].Source != "billing" {
		t.Fatalf("Sources() = %+v", sources)
	}
	if sources[0].UpdatedAt.IsZero() {
		t.Fatal("Sources() UpdatedAt is zero")
	}

	if err := store.Clear(ctx, "app"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("Count() after Clear = %d, want 1", n)
	}
	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Fatalf("Count() after ClearAll = %d, want 0", n)
	}
}

func TestWritesAreAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := New()
	bad := chunk("bad", "app", "public.bad", vec(1)[:10])
	err := store.Upsert(ctx, []vectorstore.Chunk{chunk("ok", "app", "public.ok", vec(1)), bad})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("Upsert() error = %v, want ErrDimensionMismatch", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Fatalf("Count() = %d, want 0 after rejected batch", n)
	}
}

func TestUpsertReplacesLogicalKey(t *testing.T) {
	ctx := context.Background()
	store := New()
	first := chunk("u1", "app", "public.users", vec(1))
	second := chunk("u1", "app", "public.users", vec(0, 1))
	second.Text = "Table public.users v2"
	if err := store.Upsert(ctx, []vectorstore.Chunk{first}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Upsert(ctx, []vectorstore.Chunk{second}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	matches, err := store.Search(ctx, vec(0, 1), 5, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.Text != "Table public.users v2" {
		t.Fatalf("Search() = %+v", matches)
	}
}
