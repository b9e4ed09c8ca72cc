package api

import (
	"time"

	"cmc-analytics/internal/domain"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type coinView struct {
	FetchTime        time.Time `json:"fetch_time"`
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	Rank             *int64    `json:"rank"`
	Price            float64   `json:"price"`
	MarketCap        float64   `json:"market_cap"`
	Volume24h        *float64  `json:"volume_24h"`
	PercentChange1h  *float64  `json:"percent_change_1h"`
	PercentChange24h *float64  `json:"percent_change_24h"`
	PercentChange7d  *float64  `json:"percent_change_7d"`
}

type coinsResponse struct {
	Count int        `json:"count"`
	Rows  []coinView `json:"rows"`
}

// embeddingView carries coordinates only when served from the embedding store.
type embeddingView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Symbol       string     `json:"symbol"`
	Rank         *int64     `json:"rank"`
	FetchTime    time.Time  `json:"fetch_time"`
	GenerationID string     `json:"generation_id,omitempty"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty"`
	PCA1         *float64   `json:"pca_1,omitempty"`
	PCA2         *float64   `json:"pca_2,omitempty"`
	UMAP1        *float64   `json:"umap_1,omitempty"`
	UMAP2        *float64   `json:"umap_2,omitempty"`
}

// Embedding response sources.
const (
	sourceEmbeddings = "embeddings"
	sourceSnapshots  = "snapshots"
)

type embeddingsResponse struct {
	Count      int             `json:"count"`
	Source     string          `json:"source"`
	Embeddings []embeddingView `json:"embeddings"`
}

type runView struct {
	RunID        string    `json:"run_id"`
	RunStartTime time.Time `json:"run_start_time"`
	StepName     string    `json:"step_name"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMs   int64     `json:"duration_ms"`
}

type runsResponse struct {
	Count int       `json:"count"`
	Runs  []runView `json:"runs"`
}

func newCoinView(r *domain.SnapshotRow) coinView {
	return coinView{
		FetchTime:        r.FetchTime,
		ID:               r.ID,
		Name:             r.Name,
		Symbol:           r.Symbol,
		Rank:             r.Rank,
		Price:            r.Price,
		MarketCap:        r.MarketCap,
		Volume24h:        r.Volume24h,
		PercentChange1h:  r.PercentChange1h,
		PercentChange24h: r.PercentChange24h,
		PercentChange7d:  r.PercentChange7d,
	}
}

func newEmbeddingView(e *domain.EmbeddingRow) embeddingView {
	generatedAt := e.GeneratedAt
	pca1, pca2, umap1, umap2 := e.PCA1, e.PCA2, e.UMAP1, e.UMAP2
	return embeddingView{
		ID:           e.ID,
		Name:         e.Name,
		Symbol:       e.Symbol,
		Rank:         e.Rank,
		FetchTime:    e.FetchTime,
		GenerationID: e.GenerationID,
		GeneratedAt:  &generatedAt,
		PCA1:         &pca1,
		PCA2:         &pca2,
		UMAP1:        &umap1,
		UMAP2:        &umap2,
	}
}

// newIdentityView is the fallback shape when no embedding generation exists.
func newIdentityView(r *domain.SnapshotRow) embeddingView {
	return embeddingView{
		ID:        r.ID,
		Name:      r.Name,
		Symbol:    r.Symbol,
		Rank:      r.Rank,
		FetchTime: r.FetchTime,
	}
}

func newRunView(e *domain.RunLogEntry) runView {
	return runView{
		RunID:        e.RunID,
		RunStartTime: e.RunStartTime,
		StepName:     e.StepName,
		Outcome:      string(e.Outcome),
		Detail:       e.Detail,
		StartedAt:    e.StartedAt,
		FinishedAt:   e.FinishedAt,
		DurationMs:   e.FinishedAt.Sub(e.StartedAt).Milliseconds(),
	}
}
