package memory

import (
	"context"
	"sort"
	"sync"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	rows []*domain.SnapshotRow // append order
	keys map[storage.SnapshotKey]struct{}
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		keys: make(map[storage.SnapshotKey]struct{}),
	}
}

// Append adds rows atomically. Fails entire batch on any duplicate.
func (s *SnapshotStore) Append(_ context.Context, rows []*domain.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	keys, err := storage.ValidateSnapshots(rows)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check existing data
	for _, k := range keys {
		if _, exists := s.keys[k]; exists {
			return storage.ErrDuplicateKey
		}
	}

	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	for _, r := range rows {
		c := r.Clone()
		c.FetchTime = storage.NormalizeTime(c.FetchTime)
		s.rows = append(s.rows, c)
	}

	return nil
}

// ReadAll retrieves every row matching filter, ordered by (fetch_time, id) ASC.
func (s *SnapshotStore) ReadAll(_ context.Context, filter domain.FeatureFilter) ([]*domain.SnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SnapshotRow, 0, len(s.rows))
	for _, r := range s.rows {
		if filter.Matches(r) {
			result = append(result, r.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].FetchTime.Equal(result[j].FetchTime) {
			return result[i].FetchTime.Before(result[j].FetchTime)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// List retrieves a page of rows, newest fetch_time first.
func (s *SnapshotStore) List(_ context.Context, limit, offset int) ([]*domain.SnapshotRow, error) {
	if limit < 0 || offset < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.SnapshotRow, len(s.rows))
	copy(all, s.rows)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].FetchTime.Equal(all[j].FetchTime) {
			return all[i].FetchTime.After(all[j].FetchTime)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return []*domain.SnapshotRow{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	result := make([]*domain.SnapshotRow, 0, end-offset)
	for _, r := range all[offset:end] {
		result = append(result, r.Clone())
	}
	return result, nil
}

// Count returns the total number of rows.
func (s *SnapshotStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
