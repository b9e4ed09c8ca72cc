package pipeline

import (
	"context"
	"errors"
	"fmt"

	"cmc-analytics/internal/config"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/storage"
	"cmc-analytics/internal/storage/clickhouse"
	"cmc-analytics/internal/storage/duckdb"
	"cmc-analytics/internal/storage/file"
	"cmc-analytics/internal/storage/memory"
	"cmc-analytics/internal/storage/migrations"
	"cmc-analytics/internal/storage/postgres"
)

// Stores holds the configured store backends. Schemas are applied on open.
type Stores struct {
	Snapshots  storage.SnapshotStore
	Embeddings storage.EmbeddingStore
	RunLog     storage.RunLogStore

	closers []func() error
}

// OpenStores opens the snapshot, embedding and run log backends named by cfg.
func OpenStores(ctx context.Context, cfg *config.Config, log *logger.Log) (*Stores, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	entry := log.WithComponent("storage")
	s := &Stores{}

	var duck *duckdb.DB
	switch cfg.Storage.Backend {
	case "memory":
		s.Snapshots = memory.NewSnapshotStore()
		s.Embeddings = memory.NewEmbeddingStore()

	case "duckdb":
		db, err := duckdb.Open(ctx, cfg.Storage.DuckDB.Path)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		if err := migrations.RunDuckDBMigrations(ctx, db.DB); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate duckdb: %w", err)
		}
		duck = db
		s.Snapshots = duckdb.NewSnapshotStore(db)
		s.Embeddings = duckdb.NewEmbeddingStore(db)

	case "clickhouse":
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouse.DSN)
		if err != nil {
			return nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		s.closers = append(s.closers, conn.Close)
		s.Snapshots = clickhouse.NewSnapshotStore(conn)
		s.Embeddings = clickhouse.NewEmbeddingStore(conn)

	default:
		return nil, fmt.Errorf("%w: storage backend %q", config.ErrInvalidConfig, cfg.Storage.Backend)
	}

	switch cfg.RunLog.Backend {
	case "memory":
		s.RunLog = memory.NewRunLogStore()

	case "file":
		store, err := file.NewRunLogStore(cfg.RunLog.File.Path, cfg.RunLog.File.MaxAge, log)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open run log file: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.RunLog = store

	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.RunLog.Postgres.DSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		s.RunLog = postgres.NewRunLogStore(pool)

	case "duckdb":
		if duck == nil {
			s.Close()
			return nil, fmt.Errorf("%w: duckdb run log requires the duckdb storage backend", config.ErrInvalidConfig)
		}
		s.RunLog = duckdb.NewRunLogStore(duck)

	default:
		s.Close()
		return nil, fmt.Errorf("%w: run log backend %q", config.ErrInvalidConfig, cfg.RunLog.Backend)
	}

	entry.WithFields(logger.Fields{
		"storage_backend": cfg.Storage.Backend,
		"run_log_backend": cfg.RunLog.Backend,
	}).Info("Stores opened")

	return s, nil
}

// Close closes every opened backend in reverse order.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
