package snapshot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lagless/engine/internal/world"
)

// Global is an immutable deep copy of the complete simulation state at one
// frame boundary. Once stored it is never mutated; Restore copies out of it,
// never aliases into it.
type Global struct {
	Frame   uint64
	Elapsed float64   // logical time at capture; Find keys on this
	Wall    time.Time // wall-clock capture time, for correlating detector lag
	Horizon float64   // event due-cutoff already consumed at capture

	Entities map[world.ID]*world.Entity

	Score int
	Lives int
	Phase string

	Callbacks []world.Callback

	RandState uint64
	Serial    uint64
}

// CaptureDetached deep-copies a world into a snapshot without storing it in
// any buffer. The rollback pass uses this to keep a backup of the pre-pass
// state so a failed replay can be unwound.
func CaptureDetached(w *world.World) *Global {
	g := &Global{
		Frame:     w.Clock.Frame,
		Elapsed:   w.Clock.Elapsed,
		Wall:      time.Now(),
		Horizon:   w.EventHorizon,
		Entities:  make(map[world.ID]*world.Entity, w.Len()),
		Score:     w.Score,
		Lives:     w.Lives,
		Phase:     w.Phase,
		Callbacks: w.CloneCallbacks(),
		RandState: w.Rand.State(),
		Serial:    w.Serial(),
	}
	w.ForEach(func(e *world.Entity) {
		g.Entities[e.ID] = e.Clone()
	})
	return g
}

// Apply overwrites a live world with the snapshot's state. Entities present
// in the world but absent from the snapshot are destroyed; entities present
// in the snapshot but missing from the world are recreated with their
// snapshotted fields. Identity is never reassigned.
func (g *Global) Apply(w *world.World) {
	for _, id := range w.SortedIDs() {
		if _, ok := g.Entities[id]; !ok {
			w.Remove(id)
		}
	}
	for _, e := range g.Entities {
		w.Add(e.Clone())
	}

	w.Clock.Frame = g.Frame
	w.Clock.Elapsed = g.Elapsed
	w.EventHorizon = g.Horizon
	w.Score = g.Score
	w.Lives = g.Lives
	w.Phase = g.Phase

	if g.Callbacks == nil {
		w.Callbacks = nil
	} else {
		w.Callbacks = make([]world.Callback, 0, len(g.Callbacks))
		for _, cb := range g.Callbacks {
			payload := cb.Payload
			if payload != nil {
				p := make(map[string]float64, len(payload))
				for k, v := range payload {
					p[k] = v
				}
				payload = p
			}
			w.Callbacks = append(w.Callbacks, world.Callback{
				FireAt:  cb.FireAt,
				Name:    cb.Name,
				Target:  cb.Target,
				Payload: payload,
			})
		}
	}

	w.Rand.Restore(g.RandState)
	w.SetSerial(g.Serial)
}

// Fingerprint renders the snapshot as a canonical text digest: entities and
// property keys in sorted order, floats at full precision. Two snapshots of
// identical states produce identical fingerprints, which is how the replay
// determinism tests compare runs.
func (g *Global) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "frame=%d elapsed=%.9f horizon=%.9f score=%d lives=%d phase=%s rand=%d serial=%d\n",
		g.Frame, g.Elapsed, g.Horizon, g.Score, g.Lives, g.Phase, g.RandState, g.Serial)

	ids := make([]world.ID, 0, len(g.Entities))
	for id := range g.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e := g.Entities[id]
		fmt.Fprintf(&b, "ent %s kind=%s alive=%t pos=%.9f,%.9f vel=%.9f,%.9f size=%.9f,%.9f hp=%d score=%d color=%s parent=%s",
			e.ID, e.Kind, e.Alive, e.Pos.X, e.Pos.Y, e.Vel.X, e.Vel.Y, e.Size.X, e.Size.Y, e.HP, e.Score, e.Color, e.Parent)
		for _, k := range e.Props.SortedKeys() {
			fmt.Fprintf(&b, " %s=%v", k, e.Props[k])
		}
		b.WriteByte('\n')
	}

	cbs := make([]world.Callback, len(g.Callbacks))
	copy(cbs, g.Callbacks)
	sort.Slice(cbs, func(i, j int) bool {
		if cbs[i].FireAt != cbs[j].FireAt {
			return cbs[i].FireAt < cbs[j].FireAt
		}
		return cbs[i].Name < cbs[j].Name
	})
	for _, cb := range cbs {
		fmt.Fprintf(&b, "cb %.9f %s %s\n", cb.FireAt, cb.Name, cb.Target)
	}
	return b.String()
}
