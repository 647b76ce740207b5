package store

import (
	"sync"
	"sync/atomic"

	"github.com/livefeed/livefeed/pkg/types"
)

// Store is a single-value, many-reader snapshot holder.
type Store struct {
	cur     atomic.Pointer[types.Snapshot]
	changed atomic.Pointer[chan struct{}]

	mu      sync.Mutex // serialises publishers
	version uint64
}

// New creates a Store holding the placeholder snapshot.
func New() *Store {
	s := &Store{}
	s.cur.Store(types.Placeholder())
	ch := make(chan struct{})
	s.changed.Store(&ch)
	return s
}

// Publish replaces the current snapshot with a copy of snap stamped with the
// next version, wakes every watcher, and returns the stamped copy.
// Callers must not modify snap after calling Publish.
func (s *Store) Publish(snap *types.Snapshot) *types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	stamped := snap.WithVersion(s.version)
	s.cur.Store(stamped)

	next := make(chan struct{})
	prev := s.changed.Swap(&next)
	close(*prev)

	return stamped
}

// Read returns the current snapshot. It never blocks.
func (s *Store) Read() *types.Snapshot {
	return s.cur.Load()
}

// Changed returns a channel closed by the next Publish.
func (s *Store) Changed() <-chan struct{} {
	return *s.changed.Load()
}
