package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb/v2" // registers the "duckdb" driver
)

// DB wraps a DuckDB database handle for dependency injection.
// DuckDB allows one writing process per database file.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the DuckDB database at path.
// An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create duckdb dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	return &DB{DB: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.DB.Close()
}

// nullable converts an optional column value into a driver argument.
func nullable[T int64 | float64](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
