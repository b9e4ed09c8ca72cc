package duckdb

import (
	"context"
	"fmt"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// RunLogStore implements storage.RunLogStore using DuckDB.
// Shares the database file with the snapshot stores.
type RunLogStore struct {
	db *DB
}

// NewRunLogStore creates a new RunLogStore.
func NewRunLogStore(db *DB) *RunLogStore {
	return &RunLogStore{db: db}
}

var _ storage.RunLogStore = (*RunLogStore)(nil)

// Append adds one entry.
func (s *RunLogStore) Append(ctx context.Context, entry *domain.RunLogEntry) error {
	if err := storage.ValidateRunLogEntry(entry); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_log (run_id, run_start_time, step_name, outcome, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RunID,
		storage.NormalizeTime(entry.RunStartTime),
		entry.StepName,
		string(entry.Outcome),
		entry.Detail,
		storage.NormalizeTime(entry.StartedAt),
		storage.NormalizeTime(entry.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run log entry: %w", err)
	}
	return nil
}

// List retrieves up to limit entries, most recent first.
func (s *RunLogStore) List(ctx context.Context, limit int) ([]*domain.RunLogEntry, error) {
	if limit < 0 {
		return nil, storage.ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, run_start_time, step_name, outcome, detail, started_at, finished_at
		FROM run_log
		ORDER BY seq DESC
		LIMIT ?
	`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("query run log: %w", err)
	}
	defer rows.Close()

	result := []*domain.RunLogEntry{}
	for rows.Next() {
		var e domain.RunLogEntry
		var outcome string
		if err := rows.Scan(&e.RunID, &e.RunStartTime, &e.StepName, &outcome, &e.Detail, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run log entry: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		e.RunStartTime = e.RunStartTime.UTC()
		e.StartedAt = e.StartedAt.UTC()
		e.FinishedAt = e.FinishedAt.UTC()
		result = append(result, &e)
	}
	return result, rows.Err()
}
