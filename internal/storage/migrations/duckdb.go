package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// RunDuckDBMigrations applies the DuckDB schema in one transaction.
func RunDuckDBMigrations(ctx context.Context, db *sql.DB) error {
	migs, err := load(DuckDBFS, "duckdb")
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, m := range migs {
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.name, err)
			}
		}
	}
	return tx.Commit()
}
