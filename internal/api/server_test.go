package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/storage"
	"cmc-analytics/internal/storage/memory"
)

func ptr[T any](v T) *T { return &v }

func snapshot(fetch time.Time, id string, rank int64) *domain.SnapshotRow {
	return &domain.SnapshotRow{
		FetchTime: fetch,
		ID:        id,
		Name:      "coin-" + id,
		Symbol:    "C" + id,
		Rank:      ptr(rank),
		Price:     10,
		MarketCap: 1000,
		Volume24h: ptr(5.0),
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis down")
}
func (failingCache) Set(context.Context, string, []byte) error { return errors.New("redis down") }

type failingSnapshots struct{ storage.SnapshotStore }

func (failingSnapshots) List(context.Context, int, int) ([]*domain.SnapshotRow, error) {
	return nil, errors.New("database is locked")
}
func (failingSnapshots) Count(context.Context) (int, error) { return 0, errors.New("database is locked") }

type fixture struct {
	snapshots  *memory.SnapshotStore
	embeddings *memory.EmbeddingStore
	runLog     *memory.RunLogStore
	opts       Options
}

func newFixture() *fixture {
	f := &fixture{
		snapshots:  memory.NewSnapshotStore(),
		embeddings: memory.NewEmbeddingStore(),
		runLog:     memory.NewRunLogStore(),
	}
	f.opts = Options{
		Snapshots:  f.snapshots,
		Embeddings: f.embeddings,
		RunLog:     f.runLog,
		Logger:     logger.Discard(),
	}
	return f
}

func (f *fixture) do(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv, err := NewServer(f.opts)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer_RequiresStores(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestStatusAndHealth(t *testing.T) {
	f := newFixture()

	rec := f.do(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusResponse](t, rec)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, ServiceName, status.Service)

	rec = f.do(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.opts.Snapshots = failingSnapshots{}
	rec = f.do(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCoins(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.snapshots.Append(ctx, []*domain.SnapshotRow{snapshot(t0, "1", 1), snapshot(t0, "2", 2)}))
	require.NoError(t, f.snapshots.Append(ctx, []*domain.SnapshotRow{snapshot(t0.Add(time.Hour), "1", 1)}))

	rec := f.do(t, "/coins")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	resp := decode[coinsResponse](t, rec)
	require.Equal(t, 3, resp.Count)
	assert.True(t, resp.Rows[0].FetchTime.Equal(t0.Add(time.Hour)), "newest first")
	assert.Nil(t, resp.Rows[0].PercentChange7d)

	rec = f.do(t, "/coins?limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[coinsResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "1", resp.Rows[0].ID)
	assert.True(t, resp.Rows[0].FetchTime.Equal(t0))

	rec = f.do(t, "/coins?offset=50")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[coinsResponse](t, rec)
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Rows)
}

func TestCoins_BadParams(t *testing.T) {
	f := newFixture()

	for _, path := range []string{"/coins?limit=abc", "/coins?limit=-1", "/coins?offset=-5", "/coins?limit=999999", "/analytics/embeddings?limit=x", "/runs?limit=-2"} {
		t.Run(path, func(t *testing.T) {
			rec := f.do(t, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestCoins_StoreError(t *testing.T) {
	f := newFixture()
	f.opts.Snapshots = failingSnapshots{}

	rec := f.do(t, "/coins")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "database is locked")
}

func TestEmbeddings_LatestGeneration(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	old := domain.NewEmbeddingRow(snapshot(t0, "1", 1), "gen-1", t0)
	require.NoError(t, f.embeddings.Append(ctx, []*domain.EmbeddingRow{old}))

	var latest []*domain.EmbeddingRow
	for _, id := range []string{"3", "1", "2"} {
		rank := map[string]int64{"1": 1, "2": 2, "3": 3}[id]
		row := domain.NewEmbeddingRow(snapshot(t0, id, rank), "gen-2", t0.Add(time.Hour))
		row.UMAP1 = float64(rank) * 1.5
		latest = append(latest, row)
	}
	require.NoError(t, f.embeddings.Append(ctx, latest))

	rec := f.do(t, "/analytics/embeddings?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[embeddingsResponse](t, rec)
	assert.Equal(t, sourceEmbeddings, resp.Source)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "1", resp.Embeddings[0].ID)
	assert.Equal(t, "2", resp.Embeddings[1].ID)
	assert.Equal(t, "gen-2", resp.Embeddings[0].GenerationID)
	require.NotNil(t, resp.Embeddings[1].UMAP1)
	assert.Equal(t, 3.0, *resp.Embeddings[1].UMAP1)
}

func TestEmbeddings_FallbackToSnapshots(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	unranked := snapshot(t0, "9", 0)
	unranked.Rank = nil
	require.NoError(t, f.snapshots.Append(ctx, []*domain.SnapshotRow{unranked, snapshot(t0, "2", 2), snapshot(t0, "1", 1)}))

	rec := f.do(t, "/analytics/embeddings")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[embeddingsResponse](t, rec)
	assert.Equal(t, sourceSnapshots, resp.Source)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "1", resp.Embeddings[0].ID)
	assert.Equal(t, "2", resp.Embeddings[1].ID)
	assert.Equal(t, "9", resp.Embeddings[2].ID)
	assert.Nil(t, resp.Embeddings[0].PCA1)
	assert.NotContains(t, rec.Body.String(), "umap_1")
}

func TestPlot(t *testing.T) {
	f := newFixture()

	rec := f.do(t, "/plot")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.opts.PlotPath = filepath.Join(t.TempDir(), "umap.png")
	rec = f.do(t, "/plot")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	png := []byte("\x89PNG\r\n\x1a\nfake")
	require.NoError(t, os.WriteFile(f.opts.PlotPath, png, 0o644))
	rec = f.do(t, "/plot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestRuns(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, step := range []string{"ingest", "clean", "embed"} {
		require.NoError(t, f.runLog.Append(ctx, &domain.RunLogEntry{
			RunID:        "run-1",
			RunStartTime: start,
			StepName:     step,
			Outcome:      domain.OutcomeSuccess,
			StartedAt:    start,
			FinishedAt:   start.Add(1500 * time.Millisecond),
		}))
	}

	rec := f.do(t, "/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[runsResponse](t, rec)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "embed", resp.Runs[0].StepName)
	assert.Equal(t, int64(1500), resp.Runs[0].DurationMs)

	f.opts.RunLog = nil
	rec = f.do(t, "/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCache(t *testing.T) {
	f := newFixture()
	cache := newMapCache()
	f.opts.Cache = cache
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.snapshots.Append(ctx, []*domain.SnapshotRow{snapshot(t0, "1", 1)}))

	srv, err := NewServer(f.opts)
	require.NoError(t, err)
	router := srv.Router()

	get := func() coinsResponse {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/coins?limit=10", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[coinsResponse](t, rec)
	}

	assert.Equal(t, 1, get().Count)
	require.NoError(t, f.snapshots.Append(ctx, []*domain.SnapshotRow{snapshot(t0.Add(time.Hour), "1", 1)}))

	// Served from cache until the entry expires
	assert.Equal(t, 1, get().Count)
	assert.Equal(t, 1, cache.sets)
	assert.Contains(t, cache.data, "coins:10:0")
}

func TestCache_FailureServesUncached(t *testing.T) {
	f := newFixture()
	f.opts.Cache = failingCache{}
	require.NoError(t, f.snapshots.Append(context.Background(), []*domain.SnapshotRow{snapshot(time.Now(), "1", 1)}))

	rec := f.do(t, "/coins")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[coinsResponse](t, rec).Count)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	f.do(t, "/coins")

	rec := f.do(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cmc_analytics_api_requests_total")
}
