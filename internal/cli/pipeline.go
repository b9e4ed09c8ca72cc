package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cmc-analytics/internal/api"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/pipeline"
)

func newPipelineCommand(opts *rootOptions) *cobra.Command {
	var withAPI bool

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the pipeline on its schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadPipelineConfig()
			if err != nil {
				return err
			}
			log := logger.GetLogger()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			p, err := pipeline.New(ctx, cfg, pipeline.Options{Logger: log, Status: opts.stdout})
			if err != nil {
				return err
			}
			defer p.Close()

			serveMetrics(ctx, cfg.Server.MetricsAddr, log)

			if !withAPI {
				return p.Run(ctx)
			}

			// Shares the open stores, which single-writer backends such as DuckDB require.
			srv, err := api.NewServer(apiOptions(ctx, cfg, p.Stores, log))
			if err != nil {
				return err
			}
			// A failing API is logged and never stops the schedule.
			var g errgroup.Group
			g.Go(func() error {
				if err := srv.Run(ctx); err != nil {
					log.WithComponent("api").WithError(err).Error("Query API stopped")
				}
				return nil
			})

			runErr := p.Run(ctx)
			cancel()
			_ = g.Wait()
			return runErr
		},
	}
	cmd.Flags().BoolVar(&withAPI, "with-api", false, "Also serve the query API from this process")
	return cmd
}

func newRunOnceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Execute every step once and exit; fails if any step failed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadPipelineConfig()
			if err != nil {
				return err
			}
			log := logger.GetLogger()

			ctx := cmd.Context()
			p, err := pipeline.New(ctx, cfg, pipeline.Options{Logger: log, Status: opts.stdout})
			if err != nil {
				return err
			}
			defer p.Close()

			run := p.RunOnce(ctx)
			if n := run.Failures(); n > 0 {
				return fmt.Errorf("%w: %d of %d", ErrStepsFailed, n, len(run.Steps))
			}
			return nil
		},
	}
}
