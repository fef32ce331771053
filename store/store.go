package store

import (
	"sync"
	"sync/atomic"

	"github.com/krisalay/fleet-agenda-cache/types"
)

/*
This file defines how cache entries are held in memory.
- Reads should be very fast and never see a half-written entry
- Reads should NOT require locks
- Writes are rare (one per completed fetch) and can afford extra work

To achieve this, we use "Copy-On-Write" (COW): readers load an immutable map
snapshot, writers build a new map and swap it in atomically.
*/

// PutResult reports what a conditional write did.
type PutResult int

const (
	// Stored means the entry replaced the previous one (or there was none).
	Stored PutResult = iota

	// Superseded means a newer entry was already stored; the write was dropped.
	Superseded

	// Cleared means the store was cleared after the write was issued; the
	// write was dropped.
	Cleared
)

/*
Store is a copy-on-write map of cache entries.

All writers go through mu, so the compare in PutIfNewer and the swap that
follows it happen as one step. Readers never take mu.

Every Clear starts a new generation. A writer that read Generation before
issuing its request hands it back to PutIfCurrent, which drops the write
when a Clear happened in between.
*/
type Store[T any] struct {
	data atomic.Pointer[map[string]*types.CacheEntry[T]]
	mu   sync.Mutex
	gen  uint64
}

func New[T any]() *Store[T] {
	s := &Store[T]{}
	m := make(map[string]*types.CacheEntry[T])
	s.data.Store(&m)
	return s
}

// Get retrieves an entry from the store.
func (s *Store[T]) Get(key string) (*types.CacheEntry[T], bool) {
	ent, ok := (*s.data.Load())[key]
	return ent, ok
}

/*
PutIfNewer stores ent unless the entry already under ent.Key was issued later.

Equal timestamps replace: a forced refetch issued in the same instant as the
entry it replaces is still the newer answer.

It returns the entry that is visible after the call, which is ent itself when
it was stored and the existing entry otherwise.
*/
func (s *Store[T]) PutIfNewer(ent *types.CacheEntry[T]) (*types.CacheEntry[T], PutResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ent)
}

// Generation returns the current clear generation.
func (s *Store[T]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// PutIfCurrent is PutIfNewer for a write issued during generation gen. It
// returns (nil, Cleared) when the store has been cleared since.
func (s *Store[T]) PutIfCurrent(ent *types.CacheEntry[T], gen uint64) (*types.CacheEntry[T], PutResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return nil, Cleared
	}
	return s.put(ent)
}

func (s *Store[T]) put(ent *types.CacheEntry[T]) (*types.CacheEntry[T], PutResult) {
	old := *s.data.Load()
	if cur, ok := old[ent.Key]; ok && cur.FetchedAt.After(ent.FetchedAt) {
		return cur, Superseded
	}

	n := make(map[string]*types.CacheEntry[T], len(old)+1)
	for k, v := range old {
		n[k] = v
	}
	n[ent.Key] = ent
	s.data.Store(&n)
	return ent, Stored
}

// Delete removes entries. Missing keys are ignored.
func (s *Store[T]) Delete(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.data.Load()
	n := make(map[string]*types.CacheEntry[T], len(old))
	for k, v := range old {
		n[k] = v
	}
	for _, k := range keys {
		delete(n, k)
	}
	s.data.Store(&n)
}

// Clear drops every entry and starts a new generation.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	m := make(map[string]*types.CacheEntry[T])
	s.data.Store(&m)
}

// Snapshot returns the current map. Callers must not modify it.
func (s *Store[T]) Snapshot() map[string]*types.CacheEntry[T] {
	return *s.data.Load()
}

// Size returns how many entries are in the store.
func (s *Store[T]) Size() int {
	return len(*s.data.Load())
}
