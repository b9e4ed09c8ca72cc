package duckdb

import (
	"database/sql"
	"fmt"

	"cmc-analytics/internal/domain"
)

func scanSnapshots(rows *sql.Rows) ([]*domain.SnapshotRow, error) {
	result := []*domain.SnapshotRow{}

	for rows.Next() {
		var r domain.SnapshotRow
		err := rows.Scan(
			&r.FetchTime, &r.ID, &r.Name, &r.Symbol, &r.Rank,
			&r.Price, &r.MarketCap, &r.Volume24h,
			&r.PercentChange1h, &r.PercentChange24h, &r.PercentChange7d,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		r.FetchTime = r.FetchTime.UTC()
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return result, nil
}

func scanEmbeddings(rows *sql.Rows) ([]*domain.EmbeddingRow, error) {
	result := []*domain.EmbeddingRow{}

	for rows.Next() {
		var e domain.EmbeddingRow
		err := rows.Scan(
			&e.GenerationID, &e.GeneratedAt,
			&e.FetchTime, &e.ID, &e.Name, &e.Symbol, &e.Rank,
			&e.Price, &e.MarketCap, &e.Volume24h,
			&e.PercentChange1h, &e.PercentChange24h, &e.PercentChange7d,
			&e.PCA1, &e.PCA2, &e.UMAP1, &e.UMAP2,
		)
		if err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		e.GeneratedAt = e.GeneratedAt.UTC()
		e.FetchTime = e.FetchTime.UTC()
		result = append(result, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding rows: %w", err)
	}
	return result, nil
}
