package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process ephemeral store.
//
// It backs single-node deployments and tests; multi-node deployments use the
// SQLite-backed store so every instance observes the same slots.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
}

// Put stores a value under key with the given TTL, replacing any prior value.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.clock().UTC().Add(ttl),
	}
	return nil
}

// TakeDelete atomically reads and removes the value under key.
//
// An expired entry reads the same as one that never existed.
func (s *MemoryStore) TakeDelete(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.entries, key)
	if !entry.expiresAt.After(s.clock().UTC()) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// CleanupExpired drops entries whose TTL elapsed.
func (s *MemoryStore) CleanupExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if !entry.expiresAt.After(now.UTC()) {
			delete(s.entries, key)
		}
	}
}
