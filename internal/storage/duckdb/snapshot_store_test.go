package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
	"cmc-analytics/internal/storage/migrations"
)

func TestSnapshotStore_AppendAndReadAll(t *testing.T) {
	store := NewSnapshotStore(setupTestDB(t))
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 123_000_000, time.UTC)

	require.NoError(t, store.Append(ctx, nil))

	partial := snapshot(t0, "3", 30, 3000)
	partial.Rank = nil
	partial.Volume24h = nil

	err := store.Append(ctx, []*domain.SnapshotRow{
		snapshot(t0, "2", 20, 2000),
		snapshot(t0, "1", 10, 1000),
		partial,
	})
	require.NoError(t, err)

	got, err := store.ReadAll(ctx, domain.FeatureFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.True(t, got[0].FetchTime.Equal(t0), "fetch time round trip: %v", got[0].FetchTime)
	assert.Equal(t, time.UTC, got[0].FetchTime.Location())
	require.NotNil(t, got[0].Volume24h)
	assert.Equal(t, 10.0, *got[0].Volume24h)
	assert.Nil(t, got[2].Rank)
	assert.Nil(t, got[2].Volume24h)

	complete, err := store.ReadAll(ctx, domain.FeatureFilter{Required: []domain.Feature{domain.FeatureVolume24h}})
	require.NoError(t, err)
	assert.Len(t, complete, 2)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSnapshotStore_DuplicateKey(t *testing.T) {
	store := NewSnapshotStore(setupTestDB(t))
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, []*domain.SnapshotRow{snapshot(t0, "1", 10, 1000)}))

	err := store.Append(ctx, []*domain.SnapshotRow{
		snapshot(t0, "2", 20, 2000),
		snapshot(t0, "1", 11, 1100),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rejected batch must not be partially applied")

	// Rows without an id are never key-checked
	anon := []*domain.SnapshotRow{snapshot(t0, "", 1, 10), snapshot(t0, "", 2, 20)}
	require.NoError(t, store.Append(ctx, anon))
	require.NoError(t, store.Append(ctx, []*domain.SnapshotRow{snapshot(t0, "", 3, 30)}))

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSnapshotStore_List(t *testing.T) {
	store := NewSnapshotStore(setupTestDB(t))
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		fetch := t0.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Append(ctx, []*domain.SnapshotRow{
			snapshot(fetch, "b", 10, 1000),
			snapshot(fetch, "a", 10, 1000),
		}))
	}

	page, err := store.List(ctx, 3, 1)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "b", page[0].ID)
	assert.True(t, page[0].FetchTime.Equal(t0.Add(2*time.Hour)))
	assert.Equal(t, "a", page[1].ID)
	assert.True(t, page[1].FetchTime.Equal(t0.Add(time.Hour)))

	page, err = store.List(ctx, 10, 6)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = store.List(ctx, 1, -1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSnapshotStore_Persistent(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/cmc.duckdb"

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, migrations.RunDuckDBMigrations(ctx, db.DB))
	require.NoError(t, NewSnapshotStore(db).Append(ctx, []*domain.SnapshotRow{snapshot(time.Now(), "1", 10, 1000)}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	n, err := NewSnapshotStore(db).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
