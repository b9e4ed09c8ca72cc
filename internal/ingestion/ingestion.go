// Package ingestion fetches one upstream snapshot per run and stages it.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"cmc-analytics/internal/cmc"
	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
	"cmc-analytics/internal/orchestrator"
)

// ErrNoRun is returned when the step is invoked outside a pipeline run.
var ErrNoRun = errors.New("no pipeline run in context")

// Fetcher retrieves the latest listings.
type Fetcher interface {
	FetchListings(ctx context.Context) (*cmc.Listings, error)
}

// Stager persists a raw batch for later cleaning.
type Stager interface {
	Stage(ctx context.Context, batch *domain.RawBatch) error
}

// Step fetches one snapshot and stages it under the current run id.
type Step struct {
	fetcher Fetcher
	stager  Stager
	log     *logger.Entry
}

// NewStep creates the ingestion step.
func NewStep(fetcher Fetcher, stager Stager, log *logger.Log) *Step {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Step{fetcher: fetcher, stager: stager, log: log.WithComponent("ingestion")}
}

// Run fetches and stages one batch. Any fetch or staging error fails the step;
// nothing is staged in that case.
func (s *Step) Run(ctx context.Context) (string, error) {
	run, ok := orchestrator.RunFromContext(ctx)
	if !ok {
		return "", ErrNoRun
	}

	listings, err := s.fetcher.FetchListings(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch listings: %w", err)
	}

	batch := &domain.RawBatch{
		RunID:     run.ID,
		FetchTime: listings.FetchTime,
		Records:   listings.Records,
	}
	if err := s.stager.Stage(ctx, batch); err != nil {
		return "", fmt.Errorf("stage batch: %w", err)
	}
	observability.RecordStaged(batch.Len())

	s.log.WithFields(logger.Fields{
		"run_id":     run.ID,
		"batch_id":   batch.BatchID,
		"records":    batch.Len(),
		"fetch_time": batch.FetchTime,
	}).Info("Staged raw batch")

	return fmt.Sprintf("staged %d records", batch.Len()), nil
}
