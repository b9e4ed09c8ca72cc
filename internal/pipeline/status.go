package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cmc-analytics/internal/orchestrator"
)

// StatusStep appends a completion line to a human-readable status file.
type StatusStep struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStatusStep creates a status step writing to path.
func NewStatusStep(path string, now func() time.Time) *StatusStep {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StatusStep{path: path, now: now}
}

// Run appends one line naming the run.
func (s *StatusStep) Run(ctx context.Context) (string, error) {
	runID := "unknown"
	if info, ok := orchestrator.RunFromContext(ctx); ok {
		runID = info.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create status dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open status file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] run=%s pipeline completed\n", s.now().Format(time.RFC3339), runID)
	if _, err := f.WriteString(line); err != nil {
		return "", fmt.Errorf("write status line: %w", err)
	}
	return "status written to " + s.path, nil
}
