package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

func embeddings(generation string, at time.Time, ranks ...int64) []*domain.EmbeddingRow {
	rows := make([]*domain.EmbeddingRow, 0, len(ranks))
	for _, r := range ranks {
		src := snapshot(at, string(rune('a'+r)), 10, 1000)
		src.Rank = i64(r)
		rows = append(rows, domain.NewEmbeddingRow(src, generation, at))
	}
	return rows
}

func TestEmbeddingStore_AppendKeepsGenerations(t *testing.T) {
	store := NewEmbeddingStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, embeddings("gen-1", t0, 1, 2, 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, embeddings("gen-2", t0.Add(time.Hour), 3, 1, 2)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	n, _ := store.Count(ctx)
	if n != 6 {
		t.Errorf("Expected 6 rows across generations, got %d", n)
	}
	if store.Generations() != 2 {
		t.Errorf("Expected 2 generations, got %d", store.Generations())
	}

	latest, err := store.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("ListLatest failed: %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("Expected 3 rows in latest generation, got %d", len(latest))
	}
	for i, r := range latest {
		if r.GenerationID != "gen-2" {
			t.Errorf("Row %d from generation %s", i, r.GenerationID)
		}
		if *r.Rank != int64(i+1) {
			t.Errorf("Expected rank %d at %d, got %d", i+1, i, *r.Rank)
		}
	}
}

func TestEmbeddingStore_ListLatestLimit(t *testing.T) {
	store := NewEmbeddingStore()
	ctx := context.Background()

	if err := store.Append(ctx, embeddings("gen-1", time.Now(), 1, 2, 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("ListLatest failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(got))
	}
}

func TestEmbeddingStore_Empty(t *testing.T) {
	store := NewEmbeddingStore()

	got, err := store.ListLatest(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListLatest failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no rows, got %d", len(got))
	}
}

func TestEmbeddingStore_MixedGenerationRejected(t *testing.T) {
	store := NewEmbeddingStore()
	now := time.Now()

	rows := append(embeddings("gen-1", now, 1), embeddings("gen-2", now, 2)...)
	err := store.Append(context.Background(), rows)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestEmbeddingStore_LatestByGeneratedAt(t *testing.T) {
	store := NewEmbeddingStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	// The clock stepped back between the two runs.
	if err := store.Append(ctx, embeddings("gen-b", t0.Add(time.Hour), 1, 2)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, embeddings("gen-a", t0, 1, 2, 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("ListLatest failed: %v", err)
	}
	if len(got) != 2 || got[0].GenerationID != "gen-b" {
		t.Fatalf("Expected the 2 rows of gen-b, got %d rows of %q", len(got), got[0].GenerationID)
	}

	// Equal generated_at: the greater generation id wins.
	if err := store.Append(ctx, embeddings("gen-c", t0.Add(time.Hour), 4)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	got, err = store.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("ListLatest failed: %v", err)
	}
	if len(got) != 1 || got[0].GenerationID != "gen-c" {
		t.Fatalf("Expected gen-c, got %d rows", len(got))
	}
}
