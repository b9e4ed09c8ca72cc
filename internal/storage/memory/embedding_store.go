package memory

import (
	"context"
	"sort"
	"sync"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// EmbeddingStore is an in-memory implementation of storage.EmbeddingStore.
type EmbeddingStore struct {
	mu          sync.RWMutex
	generations [][]*domain.EmbeddingRow // append order, one slice per Append
}

// NewEmbeddingStore creates a new in-memory embedding store.
func NewEmbeddingStore() *EmbeddingStore {
	return &EmbeddingStore{}
}

// Append adds one generation of rows atomically.
func (s *EmbeddingStore) Append(_ context.Context, rows []*domain.EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := storage.ValidateEmbeddings(rows); err != nil {
		return err
	}

	gen := make([]*domain.EmbeddingRow, 0, len(rows))
	for _, r := range rows {
		c := r.Clone()
		c.GeneratedAt = storage.NormalizeTime(c.GeneratedAt)
		c.FetchTime = storage.NormalizeTime(c.FetchTime)
		gen = append(gen, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.generations = append(s.generations, gen)
	return nil
}

// ListLatest retrieves up to limit rows of the generation with the greatest
// generated_at (ties broken by generation id), ordered by rank with NULL last,
// then fetch_time and id.
func (s *EmbeddingStore) ListLatest(_ context.Context, limit int) ([]*domain.EmbeddingRow, error) {
	if limit < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.generations) == 0 {
		return []*domain.EmbeddingRow{}, nil
	}

	latest := s.generations[0]
	for _, g := range s.generations[1:] {
		if newerGeneration(g[0], latest[0]) {
			latest = g
		}
	}
	result := make([]*domain.EmbeddingRow, 0, len(latest))
	for _, r := range latest {
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if rankLess(a.Rank, b.Rank) || rankLess(b.Rank, a.Rank) {
			return rankLess(a.Rank, b.Rank)
		}
		if !a.FetchTime.Equal(b.FetchTime) {
			return a.FetchTime.Before(b.FetchTime)
		}
		return a.ID < b.ID
	})

	if limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the total number of rows across all generations.
func (s *EmbeddingStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, g := range s.generations {
		n += len(g)
	}
	return n, nil
}

// Generations returns the number of appended generations.
func (s *EmbeddingStore) Generations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.generations)
}

// newerGeneration orders generations by generated_at, then generation id.
func newerGeneration(a, b *domain.EmbeddingRow) bool {
	if !a.GeneratedAt.Equal(b.GeneratedAt) {
		return a.GeneratedAt.After(b.GeneratedAt)
	}
	return a.GenerationID > b.GenerationID
}

// rankLess orders by rank ASC with NULL ranks last.
func rankLess(a, b *int64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}

var _ storage.EmbeddingStore = (*EmbeddingStore)(nil)
