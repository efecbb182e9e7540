package event

import "sort"

// Queue holds pending detector events awaiting consumption plus a short
// history of already-applied events. The applied history exists for replay:
// when a rollback rewinds past an event that was already applied live, that
// event has to be re-applied at its correct instant during resimulation.
// Single-goroutine access (game loop), like the rest of the core.
type Queue struct {
	pending []Event
	applied []Event // ascending by timestamp
}

func NewQueue() *Queue {
	return &Queue{}
}

// Insert accepts an event in any arrival order.
func (q *Queue) Insert(ev Event) {
	q.pending = append(q.pending, ev)
}

// Len returns the number of pending (not yet consumed) events.
func (q *Queue) Len() int { return len(q.pending) }

// DrainDue removes and returns every pending event with timestamp <= cutoff,
// sorted ascending by timestamp (position breaks ties for a stable total
// order). Exact repeats are dropped, both within the batch and against the
// applied history.
func (q *Queue) DrainDue(cutoff float64) []Event {
	var due []Event
	rest := q.pending[:0]
	for _, ev := range q.pending {
		if ev.Timestamp <= cutoff {
			due = append(due, ev)
		} else {
			rest = append(rest, ev)
		}
	}
	q.pending = rest

	sortEvents(due)

	out := due[:0]
	for _, ev := range due {
		if len(out) > 0 && out[len(out)-1].Same(ev) {
			continue
		}
		if q.wasApplied(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// MarkApplied records that an event has been applied to the simulation so a
// later rollback can re-inject it.
func (q *Queue) MarkApplied(ev Event) {
	q.applied = append(q.applied, ev)
	sortEvents(q.applied)
}

// AppliedAfter returns applied events with timestamp strictly greater than
// ts, ascending. A rollback passes the restored snapshot's event horizon
// here: everything at or below it is already baked into the snapshot.
func (q *Queue) AppliedAfter(ts float64) []Event {
	i := sort.Search(len(q.applied), func(i int) bool {
		return q.applied[i].Timestamp > ts
	})
	out := make([]Event, len(q.applied)-i)
	copy(out, q.applied[i:])
	return out
}

// OldestPending returns the smallest pending timestamp, if any. The rollback
// coordinator polls this between replay steps to detect an even-older event
// arriving mid-pass.
func (q *Queue) OldestPending() (float64, bool) {
	if len(q.pending) == 0 {
		return 0, false
	}
	min := q.pending[0].Timestamp
	for _, ev := range q.pending[1:] {
		if ev.Timestamp < min {
			min = ev.Timestamp
		}
	}
	return min, true
}

// PruneApplied drops applied history older than ts. Called once the
// retention window has moved past those events: nothing can roll back far
// enough to need them again.
func (q *Queue) PruneApplied(ts float64) {
	i := sort.Search(len(q.applied), func(i int) bool {
		return q.applied[i].Timestamp >= ts
	})
	if i > 0 {
		q.applied = append(q.applied[:0], q.applied[i:]...)
	}
}

func (q *Queue) wasApplied(ev Event) bool {
	i := sort.Search(len(q.applied), func(i int) bool {
		return q.applied[i].Timestamp >= ev.Timestamp
	})
	for ; i < len(q.applied) && q.applied[i].Timestamp == ev.Timestamp; i++ {
		if q.applied[i].Same(ev) {
			return true
		}
	}
	return false
}

func sortEvents(evs []Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Pos.X != b.Pos.X {
			return a.Pos.X < b.Pos.X
		}
		if a.Pos.Y != b.Pos.Y {
			return a.Pos.Y < b.Pos.Y
		}
		return a.Kind < b.Kind
	})
}
