package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"cmc-analytics/internal/storage/migrations"
	"cmc-analytics/internal/storage/postgres"
)

// setupTestDB starts PostgreSQL, applies the run log schema and returns a
// pool. Teardown is registered on t.
func setupTestDB(t *testing.T) *postgres.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("cmc_test"),
		tcpostgres.WithUsername("cmc"),
		tcpostgres.WithPassword("cmc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "connect postgres")
	t.Cleanup(func() { _ = pool.Close() })

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool), "migrate postgres")
	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool), "migrations must be re-runnable")
	return pool
}
