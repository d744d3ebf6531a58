package usage

import (
	"context"
	"sync"
)

// MemoryStore keeps aggregates in process.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[Key]Totals
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[Key]Totals)}
}

func (s *MemoryStore) Add(_ context.Context, key Key, delta Totals) error {
	s.mu.Lock()
	s.rows[key] = s.rows[key].Plus(delta)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key], nil
}
