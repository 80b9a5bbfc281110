package memory

import (
	"context"
	"sync"

	"github.com/draftforge/draftforge/internal/models"
)

// InMemoryStore keeps entries in a map guarded by a single mutex. The
// mutex covers the whole check-then-insert of PutIfAbsent, which is what
// makes concurrent first-writers of identical content safe.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.MemoryEntry
}

// NewInMemoryStore creates an empty in-process store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*models.MemoryEntry)}
}

// PutIfAbsent inserts the entry unless its hash is already present.
func (s *InMemoryStore) PutIfAbsent(ctx context.Context, entry *models.MemoryEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ContentHash]; exists {
		return false, nil
	}
	cp := *entry
	s.entries[entry.ContentHash] = &cp
	return true, nil
}

// Get returns the entry for a content hash, or ErrNotFound.
func (s *InMemoryStore) Get(ctx context.Context, hash string) (*models.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// All returns a copy of every stored entry.
func (s *InMemoryStore) All(ctx context.Context) ([]*models.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*models.MemoryEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		cp := *entry
		entries = append(entries, &cp)
	}
	return entries, nil
}

// Update overwrites an existing entry.
func (s *InMemoryStore) Update(ctx context.Context, entry *models.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ContentHash]; !ok {
		return ErrNotFound
	}
	cp := *entry
	s.entries[entry.ContentHash] = &cp
	return nil
}

// Delete removes the entry for a hash.
func (s *InMemoryStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[hash]; !ok {
		return ErrNotFound
	}
	delete(s.entries, hash)
	return nil
}

// Count returns the number of stored entries.
func (s *InMemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Close is a no-op for the in-process store.
func (s *InMemoryStore) Close() error { return nil }
