package cli

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"cmc-analytics/internal/api"
	"cmc-analytics/internal/config"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/pipeline"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only query API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadServeConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			log := logger.GetLogger()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			stores, err := pipeline.OpenStores(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer stores.Close()

			srv, err := api.NewServer(apiOptions(ctx, cfg, stores, log))
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// apiOptions builds server options from cfg. An unreachable Redis degrades
// to an uncached server.
func apiOptions(ctx context.Context, cfg *config.Config, stores *pipeline.Stores, log *logger.Log) api.Options {
	opts := api.Options{
		Addr:                   cfg.Server.Addr,
		Snapshots:              stores.Snapshots,
		Embeddings:             stores.Embeddings,
		RunLog:                 stores.RunLog,
		PlotPath:               cfg.Embedding.PlotPath,
		DefaultCoinsLimit:      cfg.Server.DefaultCoinsLimit,
		DefaultEmbeddingsLimit: cfg.Server.DefaultEmbeddingsLimit,
		Logger:                 log,
	}

	rc := cfg.Cache.Redis
	if rc.Addr == "" {
		return opts
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	cache := api.NewRedisCache(client, rc.TTL)
	if err := cache.Ping(ctx); err != nil {
		log.WithComponent("api").WithError(err).WithField("addr", rc.Addr).Warn("Redis unavailable, serving uncached")
		_ = client.Close()
		return opts
	}
	opts.Cache = cache
	return opts
}
