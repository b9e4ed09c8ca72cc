// Package pipeline wires configuration into stores, step actions and the
// orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"cmc-analytics/internal/cleaning"
	"cmc-analytics/internal/cmc"
	"cmc-analytics/internal/config"
	"cmc-analytics/internal/embedding"
	"cmc-analytics/internal/ingestion"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/orchestrator"
	"cmc-analytics/internal/staging"
)

// Pipeline is a configured orchestrator together with the stores it owns.
type Pipeline struct {
	*orchestrator.Orchestrator
	Stores *Stores
}

// Options overrides process-level dependencies, mainly for tests.
type Options struct {
	Logger *logger.Log
	Status io.Writer        // orchestrator status lines, defaults to stdout
	Now    func() time.Time // clock for the log_status action
}

// New opens the configured stores and builds the step sequence.
// The caller must Close the pipeline.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	stores, err := OpenStores(ctx, cfg, opts.Logger)
	if err != nil {
		return nil, err
	}

	steps, err := BuildSteps(ctx, cfg, stores, opts)
	if err != nil {
		stores.Close()
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Steps:    steps,
		Interval: cfg.Pipeline.Schedule.Interval,
		RunLog:   stores.RunLog,
		Logger:   opts.Logger,
		Status:   opts.Status,
	})
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	return &Pipeline{Orchestrator: orch, Stores: stores}, nil
}

// Close releases the stores.
func (p *Pipeline) Close() error {
	return p.Stores.Close()
}

// BuildSteps resolves each configured step to its action, in config order.
func BuildSteps(ctx context.Context, cfg *config.Config, stores *Stores, opts Options) ([]orchestrator.Step, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	var stager *staging.Stager
	if cfg.HasAction(config.ActionIngest) || cfg.HasAction(config.ActionClean) {
		var archiver staging.Archiver
		if cfg.Archive.S3.Enabled {
			s3, err := staging.NewS3Archiver(ctx, cfg.Archive.S3)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
			}
			archiver = s3
		}
		st, err := staging.NewStager(cfg.Staging.Dir, archiver, cfg.Staging.Retention, log)
		if err != nil {
			return nil, err
		}
		stager = st
	}

	steps := make([]orchestrator.Step, 0, len(cfg.Pipeline.Steps))
	for _, sc := range cfg.Pipeline.Steps {
		var action orchestrator.Action
		switch sc.Action {
		case config.ActionIngest:
			client := cmc.NewClient(cmc.Options{
				BaseURL:           cfg.Upstream.BaseURL,
				APIKey:            cfg.Upstream.APIKey,
				Start:             cfg.Upstream.Start,
				Limit:             cfg.Upstream.Limit,
				Convert:           cfg.Upstream.Convert,
				Timeout:           cfg.Upstream.Timeout,
				MaxRetries:        retries(cfg.Upstream.MaxRetries),
				RetryWaitMin:      cfg.Upstream.RetryWaitMin,
				RetryWaitMax:      cfg.Upstream.RetryWaitMax,
				RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
				Logger:            log,
			})
			action = ingestion.NewStep(client, stager, log).Run

		case config.ActionClean:
			cleaner := cleaning.NewCleaner(cfg.Upstream.Convert)
			action = cleaning.NewStep(cleaner, stager, stores.Snapshots, log).Run

		case config.ActionEmbed:
			action = embedding.NewStep(embedding.StepOptions{
				Snapshots:  stores.Snapshots,
				Embeddings: stores.Embeddings,
				Projection: embedding.Options{
					NNeighbors: cfg.Embedding.NNeighbors,
					MinDist:    cfg.Embedding.MinDist,
					Epochs:     cfg.Embedding.Epochs,
					Seed:       cfg.Embedding.Seed,
				},
				PlotPath: cfg.Embedding.PlotPath,
				Logger:   log,
			}).Run

		case config.ActionLogStatus:
			action = NewStatusStep(cfg.RunLog.StatusPath, opts.Now).Run

		default:
			return nil, fmt.Errorf("%w: step %q has unknown action %q", config.ErrInvalidConfig, sc.Name, sc.Action)
		}

		steps = append(steps, orchestrator.Step{
			Name:        sc.Name,
			Description: sc.Description,
			Action:      action,
		})
	}

	return steps, nil
}

// retries maps the configured count onto the client, where 0 means default.
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}
