package clickhouse

import (
	"context"
	"fmt"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// EmbeddingStore implements storage.EmbeddingStore using ClickHouse.
type EmbeddingStore struct {
	conn *Conn
}

// NewEmbeddingStore creates a new EmbeddingStore.
func NewEmbeddingStore(conn *Conn) *EmbeddingStore {
	return &EmbeddingStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EmbeddingStore = (*EmbeddingStore)(nil)

// Append adds one generation of rows.
func (s *EmbeddingStore) Append(ctx context.Context, rows []*domain.EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := storage.ValidateEmbeddings(rows); err != nil {
		return err
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO snapshot_embeddings ("+storage.EmbeddingColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			r.GenerationID, storage.NormalizeTime(r.GeneratedAt),
			storage.NormalizeTime(r.FetchTime), r.ID, r.Name, r.Symbol, r.Rank,
			r.Price, r.MarketCap, r.Volume24h,
			r.PercentChange1h, r.PercentChange24h, r.PercentChange7d,
			r.PCA1, r.PCA2, r.UMAP1, r.UMAP2,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
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

	rows, err := s.conn.Query(ctx, query, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query latest embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// Count returns the total number of rows across all generations.
func (s *EmbeddingStore) Count(ctx context.Context) (int, error) {
	var count uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM snapshot_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return int(count), nil
}
