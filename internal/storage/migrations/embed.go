// Package migrations embeds and applies the schema of every SQL backend.
// Each file must be idempotent: migrations run on every store open.
package migrations

import "embed"

var (
	//go:embed postgres/*.sql
	PostgresFS embed.FS

	//go:embed clickhouse/*.sql
	ClickhouseFS embed.FS

	//go:embed duckdb/*.sql
	DuckDBFS embed.FS
)
