// Package state provides the per-session key-value store that survives
// across reruns.
package state

import (
	"sync"
	"time"

	"github.com/ashureev/reflow/internal/domain"
)

// Store holds the committed state of one session. Runtime access only
// happens from that session's active rerun, but the idle sweeper and
// the persistence hook read snapshots from other goroutines, so all
// access is guarded.
type Store struct {
	mu      sync.RWMutex
	entries map[string]domain.StateEntry
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{entries: make(map[string]domain.StateEntry)}
}

// Get returns the committed value for key, or def if the key is
// absent. A missing key is not created: absence and "set to default"
// remain distinct states.
func (s *Store) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok {
		return e.Value
	}
	return def
}

// Has reports whether the key exists in the committed state.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Version returns the monotonic version counter for key, 0 if absent.
func (s *Store) Version(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key].Version
}

// Len returns the number of committed entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns an immutable copy of the committed state.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.Value
	}
	return out
}

// Entries returns a copy of the committed entries with their versions,
// for persistence.
func (s *Store) Entries() []domain.StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StateEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Restore replaces the committed state with previously persisted
// entries. Used when a session is re-created after a server restart.
func (s *Store) Restore(entries []domain.StateEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]domain.StateEntry, len(entries))
	for _, e := range entries {
		s.entries[e.Key] = e
	}
}

// Begin opens a pending overlay for one rerun. Reads through the
// overlay see the committed state plus the rerun's own writes; nothing
// touches the committed state until Commit.
func (s *Store) Begin() *Pending {
	return &Pending{
		base:    s,
		writes:  make(map[string]any),
		cleared: make(map[string]struct{}),
	}
}

// Commit applies a completed rerun's overlay wholesale. Versions bump
// once per written key. A cancelled or failed rerun simply never
// commits; its overlay is dropped with no effect.
func (s *Store) Commit(p *Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key := range p.cleared {
		delete(s.entries, key)
	}
	for key, value := range p.writes {
		prev := s.entries[key]
		s.entries[key] = domain.StateEntry{
			Key:       key,
			Value:     value,
			Version:   prev.Version + 1,
			UpdatedAt: now,
		}
	}
}

// Pending is the uncommitted view of one rerun: read-your-writes over
// the committed base. Not safe for concurrent use; a rerun is a single
// logical execution stream.
type Pending struct {
	base    *Store
	writes  map[string]any
	cleared map[string]struct{}
}

// Get returns the rerun's view of key: its own write if present,
// otherwise the committed value, otherwise def.
func (p *Pending) Get(key string, def any) any {
	if v, ok := p.writes[key]; ok {
		return v
	}
	if _, ok := p.cleared[key]; ok {
		return def
	}
	return p.base.Get(key, def)
}

// Has reports whether key exists in the rerun's view.
func (p *Pending) Has(key string) bool {
	if _, ok := p.writes[key]; ok {
		return true
	}
	if _, ok := p.cleared[key]; ok {
		return false
	}
	return p.base.Has(key)
}

// Set records a write visible to the rest of this rerun. It becomes
// durable only if the rerun commits.
func (p *Pending) Set(key string, value any) {
	delete(p.cleared, key)
	p.writes[key] = value
}

// Clear removes key from the rerun's view and, on commit, from the
// committed state.
func (p *Pending) Clear(key string) {
	delete(p.writes, key)
	p.cleared[key] = struct{}{}
}

// Snapshot returns the rerun's full view: committed state with the
// overlay applied.
func (p *Pending) Snapshot() map[string]any {
	out := p.base.Snapshot()
	for key := range p.cleared {
		delete(out, key)
	}
	for key, value := range p.writes {
		out[key] = value
	}
	return out
}

// Dirty reports whether the rerun wrote or cleared anything.
func (p *Pending) Dirty() bool {
	return len(p.writes) > 0 || len(p.cleared) > 0
}
