package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type memoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	limit int
}

// NewMemoryStore is an in-process Store for tests and redis-less runs.
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

// NewMemoryStoreWithLimit behaves like NewMemoryStore but refuses to grow
// past limit keys, reporting ErrStoreFull the way a full backend would.
func NewMemoryStoreWithLimit(limit int) Store {
	return &memoryStore{data: make(map[string][]byte), limit: limit}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && s.limit > 0 && len(s.data) >= s.limit {
		return fmt.Errorf("kv set %s: %w", key, ErrStoreFull)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *memoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryStore) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
