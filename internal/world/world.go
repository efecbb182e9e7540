package world

import (
	"fmt"
	"sort"

	"github.com/lagless/engine/internal/clock"
)

// Callback is a pending scheduled action carried in the world state so that
// restore/replay fires it at exactly the same logical instant as live play.
type Callback struct {
	FireAt  float64 // logical time
	Name    string
	Target  ID
	Payload map[string]float64
}

func (c Callback) clone() Callback {
	out := c
	if c.Payload != nil {
		out.Payload = make(map[string]float64, len(c.Payload))
		for k, v := range c.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// World is the complete live simulation state. There is no hidden global
// state outside of it: the logical clock, the RNG and the id serial all live
// here and are captured into every snapshot. Accessed only from the game
// loop goroutine — no locks needed.
type World struct {
	Clock clock.Clock
	Rand  *clock.Rand

	// EventHorizon is the due-cutoff (logical time) up to which input events
	// have already been consumed. Carried in every snapshot so a replay
	// re-applies exactly the events the live run applied after the capture,
	// using the same float comparisons.
	EventHorizon float64

	Score int
	Lives int
	Phase string // global state-machine value: "playing", "cleared", ...

	Callbacks []Callback

	entities map[ID]*Entity
	serial   uint64 // source for generated ids; snapshotted for determinism
}

func NewWorld(seed uint64) *World {
	return &World{
		Rand:     clock.NewRand(seed),
		Phase:    "playing",
		entities: make(map[ID]*Entity),
	}
}

// Add inserts an entity under its declared id (arena-defined entities like
// "brick_7" keep their names). Overwrites any previous entity with that id.
func (w *World) Add(e *Entity) {
	w.entities[e.ID] = e
}

// Spawn creates a live entity with a generated id. The serial counter is
// part of the snapshot, so replayed spawns produce identical ids.
func (w *World) Spawn(kind string) *Entity {
	w.serial++
	e := &Entity{
		ID:    ID(fmt.Sprintf("%s#%d", kind, w.serial)),
		Kind:  kind,
		Alive: true,
	}
	w.entities[e.ID] = e
	return e
}

// Get returns the entity with the given id, or nil.
func (w *World) Get(id ID) *Entity {
	return w.entities[id]
}

// Remove deletes an entity outright. Used by restore and the end-of-step
// sweep; gameplay code marks Alive=false instead.
func (w *World) Remove(id ID) {
	delete(w.entities, id)
}

// Len returns the number of entities, dead or alive.
func (w *World) Len() int { return len(w.entities) }

// SortedIDs returns all entity ids in ascending order. Every pass over the
// world iterates in this order so replay cannot diverge from live play.
func (w *World) SortedIDs() []ID {
	ids := make([]ID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ForEach visits all entities in sorted id order.
func (w *World) ForEach(fn func(*Entity)) {
	for _, id := range w.SortedIDs() {
		fn(w.entities[id])
	}
}

// Sweep removes entities marked dead during the current step and returns
// their ids.
func (w *World) Sweep() []ID {
	var dead []ID
	for _, id := range w.SortedIDs() {
		if !w.entities[id].Alive {
			dead = append(dead, id)
			delete(w.entities, id)
		}
	}
	return dead
}

// Schedule queues a callback at an absolute logical time.
func (w *World) Schedule(cb Callback) {
	w.Callbacks = append(w.Callbacks, cb)
}

// DueCallbacks removes and returns callbacks with FireAt <= now, in a stable
// (FireAt, Name, Target) order.
func (w *World) DueCallbacks(now float64) []Callback {
	var due []Callback
	rest := w.Callbacks[:0]
	for _, cb := range w.Callbacks {
		if cb.FireAt <= now {
			due = append(due, cb)
		} else {
			rest = append(rest, cb)
		}
	}
	w.Callbacks = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].FireAt != due[j].FireAt {
			return due[i].FireAt < due[j].FireAt
		}
		if due[i].Name != due[j].Name {
			return due[i].Name < due[j].Name
		}
		return due[i].Target < due[j].Target
	})
	return due
}

// Serial returns the id counter for snapshotting.
func (w *World) Serial() uint64 { return w.serial }

// SetSerial restores the id counter from a snapshot.
func (w *World) SetSerial(s uint64) { w.serial = s }

// CloneCallbacks deep-copies the pending callback list for snapshotting.
func (w *World) CloneCallbacks() []Callback {
	if w.Callbacks == nil {
		return nil
	}
	out := make([]Callback, len(w.Callbacks))
	for i, cb := range w.Callbacks {
		out[i] = cb.clone()
	}
	return out
}
