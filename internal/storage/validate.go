package storage

import (
	"time"

	"cmc-analytics/internal/domain"
)

// SnapshotKey identifies a snapshot row for duplicate detection.
type SnapshotKey struct {
	FetchTimeMs int64
	ID          string
}

// KeyOf returns the key of row and whether the row is key-checked.
func KeyOf(row *domain.SnapshotRow) (SnapshotKey, bool) {
	if row.ID == "" {
		return SnapshotKey{}, false
	}
	return SnapshotKey{FetchTimeMs: row.FetchTime.UnixMilli(), ID: row.ID}, true
}

// ValidateSnapshots checks the row invariants every backend enforces before
// appending and returns the batch keys. Fails with ErrInvalidInput on a
// malformed row and ErrDuplicateKey on an intra-batch duplicate.
func ValidateSnapshots(rows []*domain.SnapshotRow) ([]SnapshotKey, error) {
	keys := make([]SnapshotKey, 0, len(rows))
	seen := make(map[SnapshotKey]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.FetchTime.IsZero() || r.MarketCap <= 0 {
			return nil, ErrInvalidInput
		}
		k, ok := KeyOf(r)
		if !ok {
			continue
		}
		if _, exists := seen[k]; exists {
			return nil, ErrDuplicateKey
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// ValidateEmbeddings checks that rows form one generation.
func ValidateEmbeddings(rows []*domain.EmbeddingRow) error {
	var generation string
	for i, r := range rows {
		if r == nil || r.GenerationID == "" || r.GeneratedAt.IsZero() {
			return ErrInvalidInput
		}
		if i == 0 {
			generation = r.GenerationID
		} else if r.GenerationID != generation {
			return ErrInvalidInput
		}
	}
	return nil
}

// ValidateRunLogEntry checks a run log entry before appending.
func ValidateRunLogEntry(e *domain.RunLogEntry) error {
	if e == nil || e.RunID == "" || e.StepName == "" || !e.Outcome.IsValid() {
		return ErrInvalidInput
	}
	return nil
}

// NormalizeTime truncates t to millisecond precision in UTC, the resolution
// every backend stores.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
