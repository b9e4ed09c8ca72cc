// Package cli implements the cmcflow command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cmc-analytics/internal/config"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
)

// ErrStepsFailed is returned by run-once when any step of the run failed.
var ErrStepsFailed = errors.New("pipeline run had failed steps")

// DefaultConfigPath is read when --config is not given and the file exists.
const DefaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

// NewRootCommand builds the cmcflow command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "cmcflow",
		Short: "CoinMarketCap snapshot pipeline and analytics API",
		Long: `cmcflow periodically fetches CoinMarketCap listings, cleans them into
append-only snapshots, projects them into 2-D embeddings and serves the
results over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file to read from (default "+DefaultConfigPath+" if present)")

	rc.AddCommand(newPipelineCommand(opts))
	rc.AddCommand(newRunOnceCommand(opts))
	rc.AddCommand(newServeCommand(opts))
	rc.AddCommand(newMigrateCommand(opts))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// path returns the config file to read, or "" for defaults only.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// loadPipelineConfig loads and fully validates the configuration.
func (o *rootOptions) loadPipelineConfig() (*config.Config, error) {
	cfg, err := config.Load(o.path())
	if err != nil {
		return nil, err
	}
	return cfg, configureLogger(cfg)
}

// loadServeConfig loads the configuration without pipeline checks.
func (o *rootOptions) loadServeConfig() (*config.Config, error) {
	cfg, err := config.Read(o.path())
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	return cfg, configureLogger(cfg)
}

func configureLogger(cfg *config.Config) error {
	l := cfg.Logging
	if err := logger.GetLogger().Configure(l.Level, l.Format, l.Output, l.MaxAge); err != nil {
		return fmt.Errorf("%w: logging: %v", config.ErrInvalidConfig, err)
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// serveMetrics exposes /metrics and /health on addr until ctx is done.
// An empty addr disables the listener.
func serveMetrics(ctx context.Context, addr string, log *logger.Log) {
	if addr == "" {
		return
	}
	entry := log.WithComponent("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("Metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	entry.WithField("addr", addr).Info("Metrics endpoint listening")
}
