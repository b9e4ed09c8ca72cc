package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
	"cmc-analytics/internal/storage"
)

// StepOptions configures the embedding step.
type StepOptions struct {
	Snapshots  storage.SnapshotStore
	Embeddings storage.EmbeddingStore
	Projection Options
	PlotPath   string // empty disables rendering
	Logger     *logger.Log

	Now          func() time.Time
	GenerationID func() string
}

// Step projects every eligible snapshot row and appends one generation.
type Step struct {
	snapshots  storage.SnapshotStore
	embeddings storage.EmbeddingStore
	opts       Options
	plotPath   string
	log        *logger.Entry
	now        func() time.Time
	newID      func() string
}

// NewStep creates the embedding step.
func NewStep(opts StepOptions) *Step {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Step{
		snapshots:  opts.Snapshots,
		embeddings: opts.Embeddings,
		opts:       opts.Projection.withDefaults(),
		plotPath:   opts.PlotPath,
		log:        log.WithComponent("embedding"),
		now:        opts.Now,
		newID:      opts.GenerationID,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Run reads rows with all features present, projects them and appends
// exactly one embedding row per input row.
func (s *Step) Run(ctx context.Context) (string, error) {
	start := time.Now()

	rows, err := s.snapshots.ReadAll(ctx, domain.FeatureFilter{Required: domain.AllFeatures})
	if err != nil {
		return "", fmt.Errorf("read snapshots: %w", err)
	}
	if len(rows) < 2 {
		return "", fmt.Errorf("%w: %d eligible rows", ErrInsufficientData, len(rows))
	}

	x := make([][]float64, len(rows))
	for i, r := range rows {
		vec, ok := r.FeatureVector(domain.AllFeatures)
		if !ok {
			return "", fmt.Errorf("row %s@%s missing features after filter", r.ID, r.FetchTime)
		}
		x[i] = vec
	}

	proj, err := Project(x, s.opts)
	if err != nil {
		return "", err
	}

	generationID := s.newID()
	generatedAt := storage.NormalizeTime(s.now())
	out := make([]*domain.EmbeddingRow, len(rows))
	for i, r := range rows {
		e := domain.NewEmbeddingRow(r, generationID, generatedAt)
		e.PCA1, e.PCA2 = proj.PCA[i][0], proj.PCA[i][1]
		e.UMAP1, e.UMAP2 = proj.UMAP[i][0], proj.UMAP[i][1]
		out[i] = e
	}

	if err := s.embeddings.Append(ctx, out); err != nil {
		return "", fmt.Errorf("append embeddings: %w", err)
	}
	observability.RecordEmbedding(len(out), proj.ExplainedVariance)

	log := s.log.WithFields(logger.Fields{
		"generation_id":      generationID,
		"rows":               len(out),
		"explained_variance": proj.ExplainedVariance,
	})
	logger.LogPerformanceEntry(log, "embedding", time.Since(start), nil)
	log.Infof("PCA explained variance: %.2f%%", proj.ExplainedVariance*100)

	if s.plotPath != "" {
		ranks := make([]*int64, len(rows))
		for i, r := range rows {
			ranks[i] = r.Rank
		}
		if err := RenderPlot(s.plotPath, proj.UMAP, ranks); err != nil {
			log.WithError(err).Warn("Failed to render projection plot")
		} else {
			log.WithField("path", s.plotPath).Info("Saved projection plot")
		}
	}

	return fmt.Sprintf("embedded %d rows (PCA explained variance %.2f%%)", len(out), proj.ExplainedVariance*100), nil
}
