package snapshot

import "github.com/lagless/engine/internal/world"

// Store is a bounded, time-ordered ring of snapshots. Append/evict-only
// during live play, read-only during replay. Capacity is fixed at
// construction (history seconds × tick rate) so memory is bounded by design
// and Capture can never fail.
type Store struct {
	buf   []*Global
	head  int
	size  int
	limit int
}

// NewStore sizes the ring for the given retention window.
func NewStore(historySeconds float64, tickRate int) *Store {
	n := int(historySeconds * float64(tickRate))
	if n < 1 {
		n = 1
	}
	return &Store{buf: make([]*Global, n), limit: n}
}

// Capture deep-copies the world into a new immutable snapshot and appends
// it, evicting the oldest entry when the ring is full.
func (s *Store) Capture(w *world.World) *Global {
	g := CaptureDetached(w)
	s.buf[s.head] = g
	s.head = (s.head + 1) % s.limit
	if s.size < s.limit {
		s.size++
	}
	return g
}

// Find returns the snapshot with the greatest logical timestamp <= ts, or
// nil when ts predates the oldest retained snapshot (the caller treats that
// as rollback-window-exceeded).
func (s *Store) Find(ts float64) *Global {
	for i := 0; i < s.size; i++ {
		idx := (s.head - 1 - i + s.limit) % s.limit
		if g := s.buf[idx]; g.Elapsed <= ts {
			return g
		}
	}
	return nil
}

// Refresh replaces the retained snapshot for the same frame, if present.
// A committed rollback pass rewrites history: every frame it recomputed
// replaces its stale original, so a later rollback into the same region
// restores the corrected timeline rather than the one the pass just undid.
func (s *Store) Refresh(g *Global) bool {
	for i := 0; i < s.size; i++ {
		idx := (s.head - 1 - i + s.limit) % s.limit
		if s.buf[idx].Frame == g.Frame {
			s.buf[idx] = g
			return true
		}
		if s.buf[idx].Frame < g.Frame {
			return false
		}
	}
	return false
}

// Restore overwrites the live world with the snapshot's state.
func (s *Store) Restore(w *world.World, g *Global) {
	g.Apply(w)
}

// Len returns the number of retained snapshots.
func (s *Store) Len() int { return s.size }

// Cap returns the ring capacity.
func (s *Store) Cap() int { return s.limit }

// Oldest returns the logical timestamp of the oldest retained snapshot.
func (s *Store) Oldest() (float64, bool) {
	if s.size == 0 {
		return 0, false
	}
	idx := (s.head - s.size + s.limit) % s.limit
	return s.buf[idx].Elapsed, true
}

// Latest returns the most recently captured snapshot, or nil.
func (s *Store) Latest() *Global {
	if s.size == 0 {
		return nil
	}
	return s.buf[(s.head-1+s.limit)%s.limit]
}
