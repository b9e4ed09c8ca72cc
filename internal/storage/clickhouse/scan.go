package clickhouse

import (
	"fmt"
	"time"

	"cmc-analytics/internal/domain"
)

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.SnapshotRow, error) {
	result := []*domain.SnapshotRow{}

	for rows.Next() {
		var r domain.SnapshotRow
		var fetchTime time.Time

		err := rows.Scan(
			&fetchTime, &r.ID, &r.Name, &r.Symbol, &r.Rank,
			&r.Price, &r.MarketCap, &r.Volume24h,
			&r.PercentChange1h, &r.PercentChange24h, &r.PercentChange7d,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		r.FetchTime = fetchTime.UTC()
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return result, nil
}

// scanEmbeddings scans multiple rows.
func scanEmbeddings(rows chRows) ([]*domain.EmbeddingRow, error) {
	result := []*domain.EmbeddingRow{}

	for rows.Next() {
		var e domain.EmbeddingRow
		var generatedAt, fetchTime time.Time

		err := rows.Scan(
			&e.GenerationID, &generatedAt,
			&fetchTime, &e.ID, &e.Name, &e.Symbol, &e.Rank,
			&e.Price, &e.MarketCap, &e.Volume24h,
			&e.PercentChange1h, &e.PercentChange24h, &e.PercentChange7d,
			&e.PCA1, &e.PCA2, &e.UMAP1, &e.UMAP2,
		)
		if err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		e.GeneratedAt = generatedAt.UTC()
		e.FetchTime = fetchTime.UTC()
		result = append(result, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding rows: %w", err)
	}
	return result, nil
}
