package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using DuckDB.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Append adds rows in one transaction. Fails entire batch on duplicate (fetch_time, id).
func (s *SnapshotStore) Append(ctx context.Context, rows []*domain.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	keys, err := storage.ValidateSnapshots(rows)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for fetchMs, ids := range storage.GroupByFetchTime(keys) {
		existing, err := idsAt(ctx, tx, fetchMs)
		if err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		for id := range ids {
			if _, dup := existing[id]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO snapshots ("+storage.SnapshotColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			storage.NormalizeTime(r.FetchTime), r.ID, r.Name, r.Symbol, nullable(r.Rank),
			r.Price, r.MarketCap, nullable(r.Volume24h),
			nullable(r.PercentChange1h), nullable(r.PercentChange24h), nullable(r.PercentChange7d),
		)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}

	return tx.Commit()
}

// ReadAll retrieves every row matching filter, ordered by (fetch_time, id) ASC.
func (s *SnapshotStore) ReadAll(ctx context.Context, filter domain.FeatureFilter) ([]*domain.SnapshotRow, error) {
	where, err := storage.NotNullClause(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+storage.SnapshotColumns+" FROM snapshots "+where+" ORDER BY fetch_time ASC, id ASC")
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

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+storage.SnapshotColumns+" FROM snapshots ORDER BY fetch_time DESC, id ASC LIMIT ? OFFSET ?",
		int64(limit), int64(offset))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Count returns the total number of rows.
func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return int(n), nil
}

func idsAt(ctx context.Context, tx *sql.Tx, fetchMs int64) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM snapshots WHERE epoch_ms(fetch_time) = ?", fetchMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
