// Package file stores the run log as an append-only JSON-lines file.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/storage"
)

// maxLineBytes bounds one encoded entry when reading the file back.
const maxLineBytes = 1 << 20

// record is the on-disk form of a run log entry.
type record struct {
	RunID        string    `json:"run_id"`
	RunStartTime time.Time `json:"run_start_time"`
	StepName     string    `json:"step_name"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RunLogStore implements storage.RunLogStore on a JSON-lines file.
// With maxAge > 0 the file is rotated and List only sees the current file.
type RunLogStore struct {
	mu   sync.Mutex
	path string
	w    io.Writer
	log  *logger.Entry
}

// NewRunLogStore opens path for appending, creating parent directories.
// A torn last line left by a crash is terminated so the next entry starts
// on its own line.
func NewRunLogStore(path string, maxAge int, log *logger.Log) (*RunLogStore, error) {
	if path == "" || path == "stdout" || path == "stderr" {
		return nil, fmt.Errorf("%w: run log path %q", storage.ErrInvalidInput, path)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	w, err := logger.OpenWriter(path, maxAge)
	if err != nil {
		return nil, err
	}
	s := &RunLogStore{path: path, w: w, log: log.WithComponent("run_log")}

	torn, err := endsMidLine(path)
	if err != nil {
		s.Close()
		return nil, err
	}
	if torn {
		s.log.WithField("path", path).Warn("Run log ends with a partial line, terminating it")
		if _, err := w.Write([]byte{'\n'}); err != nil {
			s.Close()
			return nil, fmt.Errorf("terminate partial run log line: %w", err)
		}
	}
	return s, nil
}

// endsMidLine reports whether a non-empty file at path lacks a trailing newline.
func endsMidLine(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat run log: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("read run log tail: %w", err)
	}
	return last[0] != '\n', nil
}

var _ storage.RunLogStore = (*RunLogStore)(nil)

// Append writes one entry as a single line.
func (s *RunLogStore) Append(_ context.Context, entry *domain.RunLogEntry) error {
	if err := storage.ValidateRunLogEntry(entry); err != nil {
		return err
	}

	line, err := json.Marshal(record{
		RunID:        entry.RunID,
		RunStartTime: storage.NormalizeTime(entry.RunStartTime),
		StepName:     entry.StepName,
		Outcome:      string(entry.Outcome),
		Detail:       entry.Detail,
		StartedAt:    storage.NormalizeTime(entry.StartedAt),
		FinishedAt:   storage.NormalizeTime(entry.FinishedAt),
	})
	if err != nil {
		return fmt.Errorf("encode run log entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write run log entry: %w", err)
	}
	return nil
}

// List retrieves up to limit entries, most recent first. Lines that do not
// decode are skipped.
func (s *RunLogStore) List(_ context.Context, limit int) ([]*domain.RunLogEntry, error) {
	if limit < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []*domain.RunLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	var (
		all     []*domain.RunLogEntry
		lineNo  int
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			if skipped == 0 {
				s.log.WithError(err).WithField("line", lineNo).Warn("Skipping undecodable run log line")
			}
			skipped++
			continue
		}
		all = append(all, &domain.RunLogEntry{
			RunID:        rec.RunID,
			RunStartTime: rec.RunStartTime.UTC(),
			StepName:     rec.StepName,
			Outcome:      domain.Outcome(rec.Outcome),
			Detail:       rec.Detail,
			StartedAt:    rec.StartedAt.UTC(),
			FinishedAt:   rec.FinishedAt.UTC(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run log: %w", err)
	}
	if skipped > 1 {
		s.log.WithField("skipped", skipped).Warn("Skipped undecodable run log lines")
	}

	result := make([]*domain.RunLogEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, all[i])
	}
	return result, nil
}

// Close closes the underlying file.
func (s *RunLogStore) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
