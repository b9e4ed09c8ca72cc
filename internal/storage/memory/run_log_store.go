package memory

import (
	"context"
	"sync"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// RunLogStore is an in-memory implementation of storage.RunLogStore.
type RunLogStore struct {
	mu      sync.RWMutex
	entries []*domain.RunLogEntry
}

// NewRunLogStore creates a new in-memory run log.
func NewRunLogStore() *RunLogStore {
	return &RunLogStore{}
}

// Append adds one entry.
func (s *RunLogStore) Append(_ context.Context, e *domain.RunLogEntry) error {
	if err := storage.ValidateRunLogEntry(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *e
	s.entries = append(s.entries, &entryCopy)
	return nil
}

// List retrieves up to limit entries, most recent first.
func (s *RunLogStore) List(_ context.Context, limit int) ([]*domain.RunLogEntry, error) {
	if limit < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RunLogEntry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		entryCopy := *s.entries[i]
		result = append(result, &entryCopy)
	}
	return result, nil
}

// All returns every entry in append order.
func (s *RunLogStore) All() []*domain.RunLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RunLogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entryCopy := *e
		result = append(result, &entryCopy)
	}
	return result
}

var _ storage.RunLogStore = (*RunLogStore)(nil)
