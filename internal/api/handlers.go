package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
)

var errBadParam = errors.New("invalid query parameter")

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{Status: "ok", Service: ServiceName})
}

func (s *Server) handleHealth(c *gin.Context) {
	if _, err := s.opts.Snapshots.Count(c.Request.Context()); err != nil {
		s.log.WithError(err).Warn("Health check failed")
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "snapshot store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCoins returns a page of snapshot rows, newest fetch time first.
func (s *Server) handleCoins(c *gin.Context) {
	limit, err := intParam(c, "limit", s.opts.DefaultCoinsLimit)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	key := fmt.Sprintf("coins:%d:%d", limit, offset)
	s.cached(c, key, func() (any, error) {
		rows, err := s.opts.Snapshots.List(c.Request.Context(), limit, offset)
		if err != nil {
			return nil, err
		}
		resp := coinsResponse{Count: len(rows), Rows: make([]coinView, 0, len(rows))}
		for _, r := range rows {
			resp.Rows = append(resp.Rows, newCoinView(r))
		}
		return resp, nil
	})
}

// handleEmbeddings serves the latest generation ordered by rank. With no
// generation stored yet it falls back to snapshot identity columns.
func (s *Server) handleEmbeddings(c *gin.Context) {
	limit, err := intParam(c, "limit", s.opts.DefaultEmbeddingsLimit)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	key := fmt.Sprintf("embeddings:%d", limit)
	s.cached(c, key, func() (any, error) {
		ctx := c.Request.Context()
		rows, err := s.opts.Embeddings.ListLatest(ctx, limit)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			resp := embeddingsResponse{Count: len(rows), Source: sourceEmbeddings, Embeddings: make([]embeddingView, 0, len(rows))}
			for _, r := range rows {
				resp.Embeddings = append(resp.Embeddings, newEmbeddingView(r))
			}
			return resp, nil
		}

		n, err := s.opts.Embeddings.Count(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			// limit=0 against a populated store
			return embeddingsResponse{Source: sourceEmbeddings, Embeddings: []embeddingView{}}, nil
		}

		snaps, err := s.opts.Snapshots.List(ctx, limit, 0)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(snaps, func(i, j int) bool {
			a, b := snaps[i].Rank, snaps[j].Rank
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return *a < *b
			}
		})
		resp := embeddingsResponse{Count: len(snaps), Source: sourceSnapshots, Embeddings: make([]embeddingView, 0, len(snaps))}
		for _, r := range snaps {
			resp.Embeddings = append(resp.Embeddings, newIdentityView(r))
		}
		return resp, nil
	})
}

// handlePlot returns the rendered projection PNG, or 404 if none exists yet.
func (s *Server) handlePlot(c *gin.Context) {
	if s.opts.PlotPath == "" {
		c.JSON(http.StatusNotFound, errorResponse{Error: "plot not configured"})
		return
	}
	info, err := os.Stat(s.opts.PlotPath)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, errorResponse{Error: "plot not found"})
		return
	}
	c.Header("Content-Type", "image/png")
	c.FileAttachment(s.opts.PlotPath, "umap_plot.png")
}

// handleRuns returns recent run log entries, most recent first.
func (s *Server) handleRuns(c *gin.Context) {
	if s.opts.RunLog == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "run log not configured"})
		return
	}
	limit, err := intParam(c, "limit", s.opts.DefaultRunsLimit)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	entries, err := s.opts.RunLog.List(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "list run log", err)
		return
	}
	resp := runsResponse{Count: len(entries), Runs: make([]runView, 0, len(entries))}
	for _, e := range entries {
		resp.Runs = append(resp.Runs, newRunView(e))
	}
	c.JSON(http.StatusOK, resp)
}

// cached serves key from the cache, or computes, encodes and stores it.
// Cache failures are logged and the request is served uncached.
func (s *Server) cached(c *gin.Context, key string, compute func() (any, error)) {
	ctx := c.Request.Context()

	body, hit, err := s.opts.Cache.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Cache lookup failed")
	}
	observability.RecordCacheLookup(hit)
	if hit {
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
		return
	}

	resp, err := compute()
	if err != nil {
		s.internalError(c, key, err)
		return
	}
	body, err = json.Marshal(resp)
	if err != nil {
		s.internalError(c, key, err)
		return
	}
	if err := s.opts.Cache.Set(ctx, key, body); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Cache store failed")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.log.WithError(err).WithFields(logger.Fields{"op": op, "path": c.Request.URL.Path}).Error("Query failed")
	c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// intParam reads a non-negative integer query parameter bounded by maxLimit.
func intParam(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > maxLimit {
		return 0, fmt.Errorf("%w: %s must be an integer between 0 and %d", errBadParam, name, maxLimit)
	}
	return v, nil
}
