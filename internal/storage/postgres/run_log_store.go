package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// RunLogStore is a PostgreSQL implementation of storage.RunLogStore.
// Entries are ordered by a BIGSERIAL sequence so List reflects append order
// even when step timestamps collide.
type RunLogStore struct {
	pool *Pool
}

// NewRunLogStore creates a new PostgreSQL run log store.
func NewRunLogStore(pool *Pool) *RunLogStore {
	return &RunLogStore{pool: pool}
}

// Append adds one entry.
func (s *RunLogStore) Append(ctx context.Context, entry *domain.RunLogEntry) error {
	if err := storage.ValidateRunLogEntry(entry); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_log (run_id, run_start_time, step_name, outcome, detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
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

	rows, err := s.pool.Query(ctx, `
		SELECT run_id, run_start_time, step_name, outcome, detail, started_at, finished_at
		FROM run_log
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run log: %w", err)
	}
	defer rows.Close()

	return scanRunLogEntries(rows)
}

// scanRunLogEntries scans multiple rows into run log entries.
func scanRunLogEntries(rows pgx.Rows) ([]*domain.RunLogEntry, error) {
	result := []*domain.RunLogEntry{}

	for rows.Next() {
		var e domain.RunLogEntry
		var outcome string
		err := rows.Scan(
			&e.RunID,
			&e.RunStartTime,
			&e.StepName,
			&outcome,
			&e.Detail,
			&e.StartedAt,
			&e.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run log entry: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		e.RunStartTime = e.RunStartTime.UTC()
		e.StartedAt = e.StartedAt.UTC()
		e.FinishedAt = e.FinishedAt.UTC()
		result = append(result, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var _ storage.RunLogStore = (*RunLogStore)(nil)
