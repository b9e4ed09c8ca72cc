package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage/migrations"
)

// setupTestDB opens a migrated database file under t.TempDir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "data", "test.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.RunDuckDBMigrations(ctx, db.DB))
	return db
}

func ptr[T any](v T) *T {
	return &v
}

func snapshot(fetch time.Time, id string, price, mcap float64) *domain.SnapshotRow {
	return &domain.SnapshotRow{
		FetchTime:        fetch,
		ID:               id,
		Name:             "coin-" + id,
		Symbol:           "C" + id,
		Rank:             ptr(int64(1)),
		Price:            price,
		MarketCap:        mcap,
		Volume24h:        ptr(10.0),
		PercentChange1h:  ptr(0.1),
		PercentChange24h: ptr(1.5),
		PercentChange7d:  ptr(-2.0),
	}
}
