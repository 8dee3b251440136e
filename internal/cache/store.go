package cache

import (
	"context"
	"sync"
)

// Store persists cache entries between sessions.
type Store interface {
	// Load returns every persisted entry.
	Load(ctx context.Context) ([]Entry, error)
	// Apply writes upserts and removes deletions in a single unit of work.
	// An upsert replaces any entry with the same path and estimator kind.
	Apply(ctx context.Context, upserts []Entry, deletions []Key) error
	// Clear removes every persisted entry.
	Clear(ctx context.Context) error
	Close() error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[Key]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

// Load implements Store.
func (store *MemoryStore) Load(ctx context.Context) ([]Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	loaded := make([]Entry, 0, len(store.entries))
	for _, entry := range store.entries {
		loaded = append(loaded, entry)
	}
	return loaded, nil
}

// Apply implements Store.
func (store *MemoryStore) Apply(ctx context.Context, upserts []Entry, deletions []Key) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, deletion := range deletions {
		delete(store.entries, deletion)
	}
	for _, upsert := range upserts {
		for existingKey := range store.entries {
			if existingKey.RelativePath == upsert.RelativePath && existingKey.Kind == upsert.Kind && existingKey.Fingerprint != upsert.Fingerprint {
				delete(store.entries, existingKey)
			}
		}
		store.entries[upsert.Key] = upsert
	}
	return nil
}

// Clear implements Store.
func (store *MemoryStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries = make(map[Key]Entry)
	return nil
}

// Close implements Store.
func (store *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
