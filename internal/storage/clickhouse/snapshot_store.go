package clickhouse

import (
	"context"
	"fmt"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// MergeTree does not enforce uniqueness; keys are checked before insert.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Append adds rows. Fails entire batch on duplicate (fetch_time, id).
func (s *SnapshotStore) Append(ctx context.Context, rows []*domain.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	keys, err := storage.ValidateSnapshots(rows)
	if err != nil {
		return err
	}

	// Check for duplicates against existing DB rows
	for fetchMs, ids := range storage.GroupByFetchTime(keys) {
		existing, err := s.idsAt(ctx, fetchMs)
		if err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		for id := range ids {
			if _, dup := existing[id]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO snapshots ("+storage.SnapshotColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			storage.NormalizeTime(r.FetchTime), r.ID, r.Name, r.Symbol, r.Rank,
			r.Price, r.MarketCap, r.Volume24h,
			r.PercentChange1h, r.PercentChange24h, r.PercentChange7d,
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

// ReadAll retrieves every row matching filter, ordered by (fetch_time, id) ASC.
func (s *SnapshotStore) ReadAll(ctx context.Context, filter domain.FeatureFilter) ([]*domain.SnapshotRow, error) {
	where, err := storage.NotNullClause(filter)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + storage.SnapshotColumns + " FROM snapshots " + where +
		" ORDER BY fetch_time ASC, id ASC"

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// List retrieves a page of rows, newest fetch_time first.
func (s *SnapshotStore) List(ctx context.Context, limit, offset int) ([]*domain.SnapshotRow, error) {
	if limit < 0 || offset < 0 {
		return nil, storage.ErrInvalidInput
	}

	query := "SELECT " + storage.SnapshotColumns + ` FROM snapshots
		ORDER BY fetch_time DESC, id ASC
		LIMIT ? OFFSET ?`

	rows, err := s.conn.Query(ctx, query, uint64(limit), uint64(offset))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Count returns the total number of rows.
func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	var count uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM snapshots").Scan(&count); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return int(count), nil
}

// idsAt returns the ids already stored at one fetch time.
func (s *SnapshotStore) idsAt(ctx context.Context, fetchMs int64) (map[string]struct{}, error) {
	query := `
		SELECT id FROM snapshots
		WHERE fetch_time = fromUnixTimestamp64Milli(toInt64(?), 'UTC')
	`
	rows, err := s.conn.Query(ctx, query, fetchMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
