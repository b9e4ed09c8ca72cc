package domain

import "time"

// EmbeddingRow is a derived 2-D projection of a SnapshotRow.
// Corresponds to snapshot_embeddings table. Rows are appended per
// generation and never updated.
type EmbeddingRow struct {
	GenerationID string    // embedding run identifier (uuid)
	GeneratedAt  time.Time // embedding run time (UTC, ms precision)

	// Snapshot projection fields, carried through unchanged.
	FetchTime        time.Time
	ID               string
	Name             string
	Symbol           string
	Rank             *int64
	Price            float64
	MarketCap        float64
	Volume24h        *float64
	PercentChange1h  *float64
	PercentChange24h *float64
	PercentChange7d  *float64

	PCA1  float64 // linear projection, first component
	PCA2  float64 // linear projection, second component
	UMAP1 float64 // non-linear projection, first axis
	UMAP2 float64 // non-linear projection, second axis
}

// NewEmbeddingRow carries the snapshot fields of src into a new embedding row.
func NewEmbeddingRow(src *SnapshotRow, generationID string, generatedAt time.Time) *EmbeddingRow {
	s := src.Clone()
	return &EmbeddingRow{
		GenerationID:     generationID,
		GeneratedAt:      generatedAt,
		FetchTime:        s.FetchTime,
		ID:               s.ID,
		Name:             s.Name,
		Symbol:           s.Symbol,
		Rank:             s.Rank,
		Price:            s.Price,
		MarketCap:        s.MarketCap,
		Volume24h:        s.Volume24h,
		PercentChange1h:  s.PercentChange1h,
		PercentChange24h: s.PercentChange24h,
		PercentChange7d:  s.PercentChange7d,
	}
}

// Clone returns a deep copy of the row.
func (e *EmbeddingRow) Clone() *EmbeddingRow {
	c := *e
	c.Rank = cloneInt64(e.Rank)
	c.Volume24h = cloneFloat64(e.Volume24h)
	c.PercentChange1h = cloneFloat64(e.PercentChange1h)
	c.PercentChange24h = cloneFloat64(e.PercentChange24h)
	c.PercentChange7d = cloneFloat64(e.PercentChange7d)
	return &c
}
