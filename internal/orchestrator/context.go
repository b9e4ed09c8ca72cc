package orchestrator

import (
	"context"
	"time"

	"cmc-analytics/internal/domain"
)

type runKey struct{}

// RunInfo identifies the run a step is executing in.
type RunInfo struct {
	ID        string
	StartTime time.Time
}

func withRun(ctx context.Context, run *domain.PipelineRun) context.Context {
	return context.WithValue(ctx, runKey{}, RunInfo{ID: run.ID, StartTime: run.StartTime})
}

// RunFromContext returns the current run, if the context belongs to one.
func RunFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runKey{}).(RunInfo)
	return info, ok
}

// WithRunInfo attaches run info to ctx. Used when invoking actions outside the loop.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runKey{}, info)
}
