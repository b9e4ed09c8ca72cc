package clickhouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage/clickhouse"
	"cmc-analytics/internal/storage/migrations"
)

// setupTestDB starts a ClickHouse server and returns a connection to a
// freshly migrated "cmc_test" database. Teardown is registered on t.
func setupTestDB(t *testing.T) *clickhouse.Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_USER":                      "cmc",
				"CLICKHOUSE_PASSWORD":                  "cmc",
				"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(90*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate clickhouse container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)

	// The migration creates the database itself.
	conn, err := migrations.RunClickhouseMigrations(ctx, fmt.Sprintf("clickhouse://cmc:cmc@%s/cmc_test?dial_timeout=10s", endpoint))
	require.NoError(t, err, "migrate clickhouse")
	t.Cleanup(func() { _ = conn.Close() })

	return conn
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
