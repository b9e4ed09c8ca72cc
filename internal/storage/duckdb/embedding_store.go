package duckdb

import (
	"context"
	"fmt"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// EmbeddingStore implements storage.EmbeddingStore using DuckDB.
type EmbeddingStore struct {
	db *DB
}

// NewEmbeddingStore creates a new EmbeddingStore.
func NewEmbeddingStore(db *DB) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

var _ storage.EmbeddingStore = (*EmbeddingStore)(nil)

// Append adds one generation of rows in one transaction.
func (s *EmbeddingStore) Append(ctx context.Context, rows []*domain.EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := storage.ValidateEmbeddings(rows); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO snapshot_embeddings ("+storage.EmbeddingColumns+
		") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.GenerationID, storage.NormalizeTime(r.GeneratedAt),
			storage.NormalizeTime(r.FetchTime), r.ID, r.Name, r.Symbol, nullable(r.Rank),
			r.Price, r.MarketCap, nullable(r.Volume24h),
			nullable(r.PercentChange1h), nullable(r.PercentChange24h), nullable(r.PercentChange7d),
			r.PCA1, r.PCA2, r.UMAP1, r.UMAP2,
		)
		if err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// ListLatest retrieves up to limit rows of the most recent generation, ordered by rank.
func (s *EmbeddingStore) ListLatest(ctx context.Context, limit int) ([]*domain.EmbeddingRow, error) {
	if limit < 0 {
		return nil, storage.ErrInvalidInput
	}

	query := "SELECT " + storage.EmbeddingColumns + ` FROM snapshot_embeddings
		WHERE generation_id = (
			SELECT generation_id FROM snapshot_embeddings
			ORDER BY generated_at DESC, generation_id DESC
			LIMIT 1
		)
		ORDER BY rank ASC NULLS LAST, fetch_time ASC, id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("query latest embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// Count returns the total number of rows across all generations.
func (s *EmbeddingStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM snapshot_embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return int(n), nil
}
