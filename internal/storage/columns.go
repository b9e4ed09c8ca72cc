package storage

import (
	"fmt"
	"strings"

	"cmc-analytics/internal/domain"
)

// SnapshotColumns is the column order shared by every SQL backend.
const SnapshotColumns = "fetch_time, id, name, symbol, rank, price, market_cap, " +
	"volume_24h, percent_change_1h, percent_change_24h, percent_change_7d"

// EmbeddingColumns extends SnapshotColumns with generation metadata and coordinates.
const EmbeddingColumns = "generation_id, generated_at, " + SnapshotColumns +
	", pca_1, pca_2, umap_1, umap_2"

// NotNullClause renders filter as a WHERE clause. Feature names are column names.
// Returns "" for an empty filter.
func NotNullClause(filter domain.FeatureFilter) (string, error) {
	if len(filter.Required) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(filter.Required))
	for _, f := range filter.Required {
		if !f.IsValid() {
			return "", fmt.Errorf("%w: unknown feature %q", ErrInvalidInput, f)
		}
		conds = append(conds, string(f)+" IS NOT NULL")
	}
	return "WHERE " + strings.Join(conds, " AND "), nil
}

// GroupByFetchTime groups keys by fetch time so backends can check
// existing ids with one query per distinct fetch time.
func GroupByFetchTime(keys []SnapshotKey) map[int64]map[string]struct{} {
	groups := make(map[int64]map[string]struct{})
	for _, k := range keys {
		ids, ok := groups[k.FetchTimeMs]
		if !ok {
			ids = make(map[string]struct{})
			groups[k.FetchTimeMs] = ids
		}
		ids[k.ID] = struct{}{}
	}
	return groups
}
