package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cmc-analytics/internal/storage/postgres"
)

// RunPostgresMigrations applies the run log schema in one transaction.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	migs, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, m := range migs {
			for _, stmt := range m.stmts {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("apply migration %s: %w", m.name, err)
				}
			}
		}
		return nil
	})
}
