package storage

import (
	"context"
	"sync"
)

// MemoryStore is an ephemeral DedupeStore for demo runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	seen map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]map[string]struct{})}
}

func (s *MemoryStore) IsSeen(_ context.Context, site, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[site][key]
	return ok, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, site, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.seen[site]
	if !ok {
		keys = make(map[string]struct{})
		s.seen[site] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (s *MemoryStore) Count(_ context.Context, site string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen[site]), nil
}

func (s *MemoryStore) Close() error { return nil }
