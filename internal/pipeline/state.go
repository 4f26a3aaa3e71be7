package pipeline

import (
	"sort"
	"sync"

	"github.com/pagelift/monetizer/internal/monetize"
)

// State is the pipeline's page map, keyed by URL. It is owned by the
// orchestrator; every read hands out deep clones so external consumers can
// never observe or cause in-place mutation.
type State struct {
	mu    sync.RWMutex
	pages map[string]monetize.PageRecord
}

// NewState creates an empty State.
func NewState() *State {
	return &State{pages: make(map[string]monetize.PageRecord)}
}

// Upsert stores a clone of rec under its URL.
func (s *State) Upsert(rec monetize.PageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rec.URL] = rec.Clone()
}

// Update applies fn to the record for url under the lock. It reports whether
// the record existed.
func (s *State) Update(url string, fn func(*monetize.PageRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pages[url]
	if !ok {
		return false
	}
	fn(&rec)
	s.pages[url] = rec
	return true
}

// Get returns a clone of the record for url.
func (s *State) Get(url string) (monetize.PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.pages[url]
	if !ok {
		return monetize.PageRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns clones of every record, ordered by URL for stable output.
func (s *State) Snapshot() []monetize.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monetize.PageRecord, 0, len(s.pages))
	for _, rec := range s.pages {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Len returns the page count.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// Reset drops every record. Used by a full re-scan.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = make(map[string]monetize.PageRecord)
}
