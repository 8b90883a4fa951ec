package state

import (
	"context"
	"sync"
)

// MemoryStore is a non-durable Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (ms *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	value, ok := ms.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (ms *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.entries[key] = append([]byte(nil), value...)
	return nil
}

func (ms *MemoryStore) Delete(_ context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.entries, key)
	return nil
}
