package storage

import (
	"context"

	"cmc-analytics/internal/domain"
)

// SnapshotStore provides access to snapshots storage.
// The store is append-only: rows are never updated or deleted.
type SnapshotStore interface {
	// Append adds rows atomically. Fails entire batch with ErrDuplicateKey if any
	// (fetch_time, id) already exists or repeats within the batch.
	// Rows with an empty id are not key-checked.
	Append(ctx context.Context, rows []*domain.SnapshotRow) error

	// ReadAll retrieves every row matching filter, ordered by (fetch_time, id) ASC.
	ReadAll(ctx context.Context, filter domain.FeatureFilter) ([]*domain.SnapshotRow, error)

	// List retrieves a page of rows, newest fetch_time first.
	List(ctx context.Context, limit, offset int) ([]*domain.SnapshotRow, error)

	// Count returns the total number of rows.
	Count(ctx context.Context) (int, error)
}

// EmbeddingStore provides access to snapshot_embeddings storage.
// Each Append is one generation; generations accumulate and are never merged.
type EmbeddingStore interface {
	// Append adds one generation of rows atomically.
	Append(ctx context.Context, rows []*domain.EmbeddingRow) error

	// ListLatest retrieves up to limit rows of the most recent generation,
	// ordered by rank ASC (NULL rank last). Returns empty slice if no generation exists.
	ListLatest(ctx context.Context, limit int) ([]*domain.EmbeddingRow, error)

	// Count returns the total number of rows across all generations.
	Count(ctx context.Context) (int, error)
}

// RunLogStore provides access to the run_log audit trail.
type RunLogStore interface {
	// Append adds one entry. Entries are never updated or deleted.
	Append(ctx context.Context, entry *domain.RunLogEntry) error

	// List retrieves up to limit entries, most recent first.
	List(ctx context.Context, limit int) ([]*domain.RunLogEntry, error)
}
