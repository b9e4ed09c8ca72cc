package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func snapshot(fetch time.Time, id string, price, mcap float64) *domain.SnapshotRow {
	return &domain.SnapshotRow{
		FetchTime:        fetch,
		ID:               id,
		Name:             "coin-" + id,
		Symbol:           "C" + id,
		Rank:             i64(1),
		Price:            price,
		MarketCap:        mcap,
		Volume24h:        f64(10),
		PercentChange1h:  f64(0.1),
		PercentChange24h: f64(1.5),
		PercentChange7d:  f64(-2),
	}
}

func TestSnapshotStore_AppendAndReadAll(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	rows := []*domain.SnapshotRow{
		snapshot(t0, "2", 20, 2000),
		snapshot(t0, "1", 10, 1000),
	}
	if err := store.Append(ctx, rows); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.ReadAll(ctx, domain.FeatureFilter{})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(got))
	}
	if got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("Expected rows ordered by id, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestSnapshotStore_DuplicateKey(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, []*domain.SnapshotRow{snapshot(t0, "1", 10, 1000)}); err != nil {
		t.Fatalf("First append failed: %v", err)
	}

	err := store.Append(ctx, []*domain.SnapshotRow{
		snapshot(t0, "2", 20, 2000),
		snapshot(t0, "1", 11, 1100),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	// Failed batch must not be partially applied
	n, _ := store.Count(ctx)
	if n != 1 {
		t.Errorf("Expected 1 row after rejected batch, got %d", n)
	}
}

func TestSnapshotStore_IntraBatchDuplicate(t *testing.T) {
	store := NewSnapshotStore()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	err := store.Append(context.Background(), []*domain.SnapshotRow{
		snapshot(t0, "1", 10, 1000),
		snapshot(t0, "1", 10, 1000),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSnapshotStore_SameAssetDifferentFetchTime(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, []*domain.SnapshotRow{snapshot(t0, "1", 10, 1000)}); err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	if err := store.Append(ctx, []*domain.SnapshotRow{snapshot(t0.Add(time.Hour), "1", 12, 1200)}); err != nil {
		t.Fatalf("Second append failed: %v", err)
	}

	n, _ := store.Count(ctx)
	if n != 2 {
		t.Errorf("Expected 2 rows, got %d", n)
	}
}

func TestSnapshotStore_InvalidInput(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	tests := []struct {
		name string
		row  *domain.SnapshotRow
	}{
		{"nil row", nil},
		{"zero fetch time", snapshot(time.Time{}, "1", 10, 1000)},
		{"zero market cap", snapshot(time.Now(), "1", 10, 0)},
		{"negative market cap", snapshot(time.Now(), "1", 10, -5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Append(ctx, []*domain.SnapshotRow{tt.row})
			if !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSnapshotStore_ReadAllFeatureFilter(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	partial := snapshot(t0, "2", 20, 2000)
	partial.PercentChange7d = nil

	if err := store.Append(ctx, []*domain.SnapshotRow{snapshot(t0, "1", 10, 1000), partial}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.ReadAll(ctx, domain.FeatureFilter{Required: domain.AllFeatures})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("Expected only complete row, got %d rows", len(got))
	}

	// Filtered rows stay in the store
	n, _ := store.Count(ctx)
	if n != 2 {
		t.Errorf("Expected 2 rows in store, got %d", n)
	}
}

func TestSnapshotStore_List(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		fetch := t0.Add(time.Duration(i) * time.Hour)
		if err := store.Append(ctx, []*domain.SnapshotRow{snapshot(fetch, "1", 10, 1000)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	page, err := store.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(page))
	}
	if !page[0].FetchTime.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("Expected newest row first, got %v", page[0].FetchTime)
	}

	page, err = store.List(ctx, 10, 5)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("Expected empty page past end, got %d", len(page))
	}
}

func TestSnapshotStore_RowsImmutable(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	row := snapshot(t0, "1", 10, 1000)
	if err := store.Append(ctx, []*domain.SnapshotRow{row}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Mutating the caller's row or a read result must not change stored data
	row.Price = 999
	*row.Volume24h = 999
	got, _ := store.ReadAll(ctx, domain.FeatureFilter{})
	got[0].Price = 555

	again, _ := store.ReadAll(ctx, domain.FeatureFilter{})
	if again[0].Price != 10 || *again[0].Volume24h != 10 {
		t.Errorf("Stored row changed: price=%f volume=%f", again[0].Price, *again[0].Volume24h)
	}
}

func TestSnapshotStore_MonotonicAcrossAppends(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	var before []*domain.SnapshotRow
	prev := 0
	for i := 0; i < 5; i++ {
		fetch := t0.Add(time.Duration(i) * time.Hour)
		batch := []*domain.SnapshotRow{snapshot(fetch, "1", 10, 1000), snapshot(fetch, "2", 20, 2000)}
		if i == 3 {
			// Rejected batch leaves store unchanged
			batch = append(batch, snapshot(fetch, "1", 10, 1000))
		}
		_ = store.Append(ctx, batch)

		n, _ := store.Count(ctx)
		if n < prev {
			t.Fatalf("Row count decreased: %d -> %d", prev, n)
		}
		prev = n

		all, _ := store.ReadAll(ctx, domain.FeatureFilter{})
		for j, r := range before {
			if all[j].ID != r.ID || !all[j].FetchTime.Equal(r.FetchTime) || all[j].Price != r.Price {
				t.Fatalf("Existing row %d changed after append %d", j, i)
			}
		}
		before = all
	}
}
