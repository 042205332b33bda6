package session

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/twag/internal/tags"
)

// MemoryStore holds interaction state per session key in process memory.
// Each key owns its own lock, so concurrent taps within one session are
// serialized (the read-modify-write in Update is atomic per key) while
// unrelated sessions never contend. State here is ephemeral; the content
// system remains the only durable source of truth.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*storeEntry
	clock   func() time.Time
}

type storeEntry struct {
	mu    sync.Mutex
	state tags.InteractionState
	gone  bool
}

// NewMemoryStore constructs an empty store. A nil clock defaults to time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*storeEntry),
		clock:   clock,
	}
}

// Get returns the current state for the key. Expired state is reported as
// absent; expiry is evaluated lazily, never by a timer.
func (s *MemoryStore) Get(key string) (tags.InteractionState, bool) {
	s.mu.Lock()
	entry := s.entries[key]
	s.mu.Unlock()
	if entry == nil {
		return tags.InteractionState{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.gone || entry.state.Idle() || entry.state.Expired(s.clock().UTC()) {
		return tags.InteractionState{}, false
	}
	return entry.state, true
}

// Update applies fn to the stored state under the per-key lock. Keys whose
// state comes back idle are dropped from the map, which doubles as the
// expiry sweep.
func (s *MemoryStore) Update(key string, fn func(tags.InteractionState) tags.InteractionState) error {
	for {
		entry := s.obtain(key)
		entry.mu.Lock()
		if entry.gone {
			// Lost a race with removal; the map no longer holds this entry.
			entry.mu.Unlock()
			continue
		}
		entry.state = fn(entry.state)
		if entry.state.Idle() {
			entry.gone = true
			entry.mu.Unlock()
			s.remove(key, entry)
			return nil
		}
		entry.mu.Unlock()
		return nil
	}
}

// Delete removes any state held for the key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	entry := s.entries[key]
	s.mu.Unlock()
	if entry == nil {
		return
	}
	entry.mu.Lock()
	entry.gone = true
	entry.mu.Unlock()
	s.remove(key, entry)
}

// Len reports how many sessions currently hold state.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) obtain(key string) *storeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &storeEntry{}
		s.entries[key] = entry
	}
	return entry
}

func (s *MemoryStore) remove(key string, entry *storeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[key]; ok && current == entry {
		delete(s.entries, key)
	}
}
