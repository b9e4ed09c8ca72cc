// Package orchestrator runs the configured pipeline steps on a fixed interval.
// Flow per run: step 1 → step 2 → ... → step n → sleep(interval) → next run.
// A failing step is recorded and never stops later steps or later runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
	"cmc-analytics/internal/storage"
)

// ErrInvalidSteps is returned by New when the step list or interval is unusable.
var ErrInvalidSteps = errors.New("invalid pipeline steps")

// Action is the unit of work behind a step. The returned detail is recorded
// in the run log on success and failure alike.
type Action func(ctx context.Context) (detail string, err error)

// Step is one named, independently failing unit of a run.
type Step struct {
	Name        string
	Description string
	Action      Action
}

// Orchestrator owns the run loop. It is not safe for concurrent Run calls.
type Orchestrator struct {
	steps    []Step
	interval time.Duration
	runLog   storage.RunLogStore
	log      *logger.Entry
	status   io.Writer

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Steps    []Step
	Interval time.Duration
	RunLog   storage.RunLogStore

	// Optional
	Logger   *logger.Log
	Status   io.Writer // status lines, defaults to stdout
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	NewRunID func() string
}

// New validates the steps and creates an Orchestrator.
// Names must be unique and non-empty, actions non-nil, interval positive.
func New(opts Options) (*Orchestrator, error) {
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps configured", ErrInvalidSteps)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be greater than 0, got %s", ErrInvalidSteps, opts.Interval)
	}
	if opts.RunLog == nil {
		return nil, fmt.Errorf("%w: run log store is required", ErrInvalidSteps)
	}

	seen := make(map[string]bool, len(opts.Steps))
	for i, s := range opts.Steps {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalidSteps, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate step name %q", ErrInvalidSteps, s.Name)
		}
		if s.Action == nil {
			return nil, fmt.Errorf("%w: step %q has no action", ErrInvalidSteps, s.Name)
		}
		seen[s.Name] = true
	}

	o := &Orchestrator{
		steps:    append([]Step(nil), opts.Steps...),
		interval: opts.Interval,
		runLog:   opts.RunLog,
		status:   opts.Status,
		now:      opts.Now,
		sleep:    opts.Sleep,
		newRunID: opts.NewRunID,
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	o.log = log.WithComponent("orchestrator")
	if o.status == nil {
		o.status = os.Stdout
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.sleep == nil {
		o.sleep = sleepTimer
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	return o, nil
}

// Steps returns the configured steps in execution order.
func (o *Orchestrator) Steps() []Step {
	return append([]Step(nil), o.steps...)
}

// Interval returns the sleep between runs.
func (o *Orchestrator) Interval() time.Duration {
	return o.interval
}

// Run executes runs until ctx is cancelled. Cancellation is only observed
// while sleeping between runs; an in-flight run always completes.
// Returns nil on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.WithFields(logger.Fields{
		"steps":    len(o.steps),
		"interval": o.interval.String(),
	}).Info("Starting pipeline")

	for {
		o.RunOnce(ctx)

		o.log.WithField("interval", o.interval.String()).Info("Sleeping until next run")
		if err := o.sleep(ctx, o.interval); err != nil {
			o.log.WithError(err).Info("Pipeline stopped")
			return nil
		}
	}
}

// RunOnce executes every step once, in order, and returns the run record.
// Steps receive a context that is never cancelled by ctx.
func (o *Orchestrator) RunOnce(ctx context.Context) *domain.PipelineRun {
	run := &domain.PipelineRun{
		ID:        o.newRunID(),
		StartTime: o.now(),
	}
	stepCtx := withRun(context.WithoutCancel(ctx), run)

	log := o.log.WithField("run_id", run.ID)
	log.WithField("start_time", run.StartTime.Format(time.RFC3339)).Info("New pipeline run")

	for _, step := range o.steps {
		outcome := o.runStep(stepCtx, step)
		run.Steps = append(run.Steps, outcome)

		entry := domain.NewRunLogEntry(run, outcome)
		if err := o.runLog.Append(stepCtx, entry); err != nil {
			observability.RecordRunLogAppendError()
			log.WithError(err).WithField("step", step.Name).Error("Failed to append run log entry")
		}
		fmt.Fprintln(o.status, entry.String())
	}

	finished := o.now()
	elapsed := finished.Sub(run.StartTime)
	observability.RecordRun(run.Failures(), elapsed.Seconds(), float64(finished.Unix()))

	logger.LogPerformanceEntry(log, "pipeline_run", elapsed, logger.Fields{
		"succeeded": run.Successes(),
		"failed":    run.Failures(),
	})
	log.WithFields(logger.Fields{
		"succeeded": run.Successes(),
		"failed":    run.Failures(),
	}).Info("Pipeline completed")

	return run
}

// runStep executes one action, converting a panic into a failure.
func (o *Orchestrator) runStep(ctx context.Context, step Step) (out domain.StepOutcome) {
	out.StepName = step.Name
	out.StartedAt = o.now()

	log := o.log.WithFields(logger.Fields{"step": step.Name})
	log.WithField("description", step.Description).Info("Running step")

	defer func() {
		if r := recover(); r != nil {
			out.Outcome = domain.OutcomeFailure
			out.Detail = fmt.Sprintf("panic: %v", r)
			log.WithField("stack", string(debug.Stack())).Errorf("Step panicked: %v", r)
		}
		out.FinishedAt = o.now()
		observability.RecordStep(step.Name, string(out.Outcome), out.FinishedAt.Sub(out.StartedAt).Seconds())
	}()

	detail, err := step.Action(ctx)
	if err != nil {
		out.Outcome = domain.OutcomeFailure
		out.Detail = err.Error()
		log.WithError(err).Error("Step failed")
		return out
	}

	out.Outcome = domain.OutcomeSuccess
	out.Detail = detail
	log.WithField("detail", detail).Info("Step completed")
	return out
}

// sleepTimer waits d on a monotonic timer or until ctx is done.
func sleepTimer(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
