package domain

import (
	"fmt"
	"time"
)

// Outcome is the result of one step attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// IsValid checks if outcome is a known value.
func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// PipelineRun is one execution of the full step sequence.
// It is not persisted beyond its run log entries.
type PipelineRun struct {
	ID        string
	StartTime time.Time
	Steps     []StepOutcome
}

// StepOutcome is the recorded result of one step attempt.
type StepOutcome struct {
	StepName   string
	Outcome    Outcome
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failures returns the number of failed steps in the run.
func (r *PipelineRun) Failures() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailure {
			n++
		}
	}
	return n
}

// Successes returns the number of successful steps in the run.
func (r *PipelineRun) Successes() int {
	return len(r.Steps) - r.Failures()
}

// RunLogEntry is one record per step attempt per run.
// Corresponds to run_log table. Append-only.
type RunLogEntry struct {
	RunID        string
	RunStartTime time.Time
	StepName     string
	Outcome      Outcome
	Detail       string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// NewRunLogEntry builds the log entry for one step of a run.
func NewRunLogEntry(run *PipelineRun, step StepOutcome) *RunLogEntry {
	return &RunLogEntry{
		RunID:        run.ID,
		RunStartTime: run.StartTime,
		StepName:     step.StepName,
		Outcome:      step.Outcome,
		Detail:       step.Detail,
		StartedAt:    step.StartedAt,
		FinishedAt:   step.FinishedAt,
	}
}

// String renders the entry as a single human-readable status line.
func (e *RunLogEntry) String() string {
	return fmt.Sprintf("[%s] run=%s step=%s outcome=%s duration=%s detail=%q",
		e.FinishedAt.UTC().Format(time.RFC3339), e.RunID, e.StepName, e.Outcome,
		e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond), e.Detail)
}
