// Package memory provides a bounded in-memory cache store.
package memory

import (
	"errors"
	"sync"

	"github.com/pagelift/monetizer/internal/cache"
)

// DefaultMaxEntries bounds the store when no limit is configured.
const DefaultMaxEntries = 4096

// ErrFull is returned by Write when the store is at capacity and no entry
// could be evicted.
var ErrFull = errors.New("cache store full")

// Store is a mutex-guarded map with oldest-first eviction. Eviction keeps
// unrelated entries alive instead of clearing the whole store on overflow.
type Store struct {
	mu      sync.RWMutex
	entries map[string]cache.Entry
	max     int
}

// NewStore constructs a Store; maxEntries <= 0 selects the default bound.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		entries: make(map[string]cache.Entry),
		max:     maxEntries,
	}
}

// Read returns the entry for key if present.
func (s *Store) Read(key string) (cache.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

// Write stores the entry, evicting the oldest entry when at capacity.
func (s *Store) Write(key string, e cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.max {
		if !s.evictOldestLocked() {
			return ErrFull
		}
	}
	s.entries[key] = e
	return nil
}

// Delete removes the entry for key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Clear drops every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cache.Entry)
	return nil
}

// Len reports the current entry count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) evictOldestLocked() bool {
	var oldestKey string
	found := false
	for k, e := range s.entries {
		if !found || e.WrittenAt.Before(s.entries[oldestKey].WrittenAt) {
			oldestKey = k
			found = true
		}
	}
	if found {
		delete(s.entries, oldestKey)
	}
	return found
}
