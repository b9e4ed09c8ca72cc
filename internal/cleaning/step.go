package cleaning

import (
	"context"
	"errors"
	"fmt"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
	"cmc-analytics/internal/orchestrator"
	"cmc-analytics/internal/storage"
)

// ErrNoRun is returned when the step is invoked outside a pipeline run.
var ErrNoRun = errors.New("no pipeline run in context")

// Loader returns the batch staged for a run, or storage.ErrNotFound.
type Loader interface {
	Load(ctx context.Context, runID string) (*domain.RawBatch, error)
}

// Step cleans the current run's staged batch and appends accepted rows.
type Step struct {
	cleaner *Cleaner
	loader  Loader
	store   storage.SnapshotStore
	log     *logger.Entry
}

// NewStep creates the cleaning step.
func NewStep(cleaner *Cleaner, loader Loader, store storage.SnapshotStore, log *logger.Log) *Step {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Step{cleaner: cleaner, loader: loader, store: store, log: log.WithComponent("cleaning")}
}

// Run loads, cleans and appends. A run with no staged batch appends nothing
// and succeeds.
func (s *Step) Run(ctx context.Context) (string, error) {
	run, ok := orchestrator.RunFromContext(ctx)
	if !ok {
		return "", ErrNoRun
	}
	log := s.log.WithField("run_id", run.ID)

	batch, err := s.loader.Load(ctx, run.ID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("No staged batch for run, treating as empty")
		batch = nil
	} else if err != nil {
		return "", fmt.Errorf("load staged batch: %w", err)
	}

	rows, res, err := s.cleaner.Clean(batch)
	if err != nil {
		return "", err
	}

	if len(rows) > 0 {
		if err := s.store.Append(ctx, rows); err != nil {
			return "", fmt.Errorf("append %d rows: %w", len(rows), err)
		}
	}
	observability.RecordCleaned(res.Accepted, res.Rejected)

	logger.LogDataFlowEntry(log, "staging", "snapshots", res.Accepted, "snapshot_row")
	log.WithFields(logger.Fields{
		"accepted": res.Accepted,
		"rejected": res.Rejected,
	}).Info("Cleaned batch")

	return res.String(), nil
}
