package transcript

import (
	"context"
	"sync"
)

// MemStore is a thread-safe in-memory store.
type MemStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		out = append(out, s.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
