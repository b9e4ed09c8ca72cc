// Package api serves read-only HTTP queries over the snapshot, embedding and
// run log stores.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
	"cmc-analytics/internal/storage"
)

// ServiceName is reported by the status endpoint.
const ServiceName = "CMC Analytics API"

// maxLimit caps limit and offset query parameters.
const maxLimit = 10000

// Options configures a Server.
type Options struct {
	Addr       string
	Snapshots  storage.SnapshotStore
	Embeddings storage.EmbeddingStore
	RunLog     storage.RunLogStore // optional; /runs returns 404 without it
	Cache      Cache               // defaults to NoopCache
	PlotPath   string

	DefaultCoinsLimit      int
	DefaultEmbeddingsLimit int
	DefaultRunsLimit       int

	Logger *logger.Log
}

// Server hosts the Gin-powered query API.
type Server struct {
	opts       Options
	log        *logger.Entry
	httpServer *http.Server
}

// NewServer validates opts and constructs a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Snapshots == nil || opts.Embeddings == nil {
		return nil, fmt.Errorf("api: snapshot and embedding stores are required")
	}
	if opts.Cache == nil {
		opts.Cache = NoopCache{}
	}
	if opts.DefaultCoinsLimit <= 0 {
		opts.DefaultCoinsLimit = 100
	}
	if opts.DefaultEmbeddingsLimit <= 0 {
		opts.DefaultEmbeddingsLimit = 500
	}
	if opts.DefaultRunsLimit <= 0 {
		opts.DefaultRunsLimit = 50
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Server{
		opts: opts,
		log:  opts.Logger.WithComponent("api"),
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithField("addr", s.opts.Addr).Info("Query API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestMetrics())

	router.GET("/", s.handleStatus)
	router.GET("/health", s.handleHealth)
	router.GET("/coins", s.handleCoins)
	router.GET("/analytics/embeddings", s.handleEmbeddings)
	router.GET("/plot", s.handlePlot)
	router.GET("/runs", s.handleRuns)
	router.GET("/metrics", gin.WrapH(observability.Handler()))

	return router
}

// requestMetrics counts requests per route and status code.
func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		observability.RecordAPIRequest(route, fmt.Sprintf("%d", status))

		s.log.WithFields(logger.Fields{
			"route":       route,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Request served")
	}
}
