package reconcile

import (
	"sort"

	"github.com/lagless/engine/internal/world"
)

// EffectKind classifies a reconciliation hint for the presentation layer.
type EffectKind int

const (
	// EffectBlend eases a visual position toward a corrected authoritative
	// position instead of snapping.
	EffectBlend EffectKind = iota
	// EffectAppear introduces an entity that should have existed but was
	// never shown.
	EffectAppear
	// EffectTerminal plays a destruction effect at the last shown position
	// of an entity rollback removed.
	EffectTerminal
)

func (k EffectKind) String() string {
	switch k {
	case EffectBlend:
		return "blend"
	case EffectAppear:
		return "appear"
	case EffectTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Hint is one visual correction cue for the presentation layer.
type Hint struct {
	Entity   world.ID
	Kind     EffectKind
	Pos      world.Vec2 // where the effect plays / where the blend is headed
	Duration float64    // seconds
}

// Config holds the correction windows. Zero values get defaults.
type Config struct {
	BlendWindow      float64 // seconds to ease a position correction, default 0.1
	AppearDuration   float64 // seconds for the appear effect, default 0.15
	TerminalDuration float64 // seconds for the terminal effect, default 0.25
	SnapThreshold    float64 // corrections smaller than this (arena units) snap silently
}

func (c Config) withDefaults() Config {
	if c.BlendWindow <= 0 {
		c.BlendWindow = 0.1
	}
	if c.AppearDuration <= 0 {
		c.AppearDuration = 0.15
	}
	if c.TerminalDuration <= 0 {
		c.TerminalDuration = 0.25
	}
	if c.SnapThreshold <= 0 {
		c.SnapThreshold = 0.5
	}
	return c
}

// visual tracks what the viewer currently sees for one entity, separate from
// the authoritative state.
type visual struct {
	pos        world.Vec2
	blendFrom  world.Vec2
	blendTo    world.Vec2
	blendStart float64
	blendEnd   float64
	blending   bool
}

// Reconciler diffs each new authoritative state against what was last shown
// and produces smoothed transitions: corrections blend over a short window,
// retroactive destructions get a terminal cue at the last shown position,
// retroactive creations fade in instead of popping.
type Reconciler struct {
	cfg     Config
	visuals map[world.ID]*visual
}

func NewReconciler(cfg Config) *Reconciler {
	return &Reconciler{
		cfg:     cfg.withDefaults(),
		visuals: make(map[world.ID]*visual),
	}
}

// Observe ingests a new authoritative state at logical time now and returns
// the hints the presentation layer should play. corrected marks states
// produced by a rollback pass; ordinary frame-to-frame motion tracks the
// authoritative position directly without blend cues.
func (r *Reconciler) Observe(w *world.World, now float64, corrected bool) []Hint {
	var hints []Hint

	seen := make(map[world.ID]bool, w.Len())
	w.ForEach(func(e *world.Entity) {
		if !e.Alive {
			return
		}
		seen[e.ID] = true
		v, shown := r.visuals[e.ID]
		if !shown {
			// Never displayed: introduce with an appear effect rather than
			// popping in fully formed.
			r.visuals[e.ID] = &visual{pos: e.Pos}
			if corrected {
				hints = append(hints, Hint{Entity: e.ID, Kind: EffectAppear, Pos: e.Pos, Duration: r.cfg.AppearDuration})
			}
			return
		}
		diff := e.Pos.Sub(v.pos).Len()
		switch {
		case !corrected || diff <= r.cfg.SnapThreshold:
			// Normal motion, or a correction too small to notice.
			if !v.blending {
				v.pos = e.Pos
			} else {
				// Keep the blend aimed at the freshest authoritative spot.
				v.blendTo = e.Pos
			}
		default:
			v.blendFrom = v.pos
			v.blendTo = e.Pos
			v.blendStart = now
			v.blendEnd = now + r.cfg.BlendWindow
			v.blending = true
			hints = append(hints, Hint{Entity: e.ID, Kind: EffectBlend, Pos: e.Pos, Duration: r.cfg.BlendWindow})
		}
	})

	// Entities shown but no longer in the authoritative state: terminal
	// effect at the last displayed position, then forget them.
	ids := make([]world.ID, 0, len(r.visuals))
	for id := range r.visuals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if seen[id] {
			continue
		}
		v := r.visuals[id]
		hints = append(hints, Hint{Entity: id, Kind: EffectTerminal, Pos: v.pos, Duration: r.cfg.TerminalDuration})
		delete(r.visuals, id)
	}

	return hints
}

// Advance progresses active blends to logical time now.
func (r *Reconciler) Advance(now float64) {
	for _, v := range r.visuals {
		if !v.blending {
			continue
		}
		if now >= v.blendEnd {
			v.pos = v.blendTo
			v.blending = false
			continue
		}
		alpha := (now - v.blendStart) / (v.blendEnd - v.blendStart)
		v.pos = v.blendFrom.Add(v.blendTo.Sub(v.blendFrom).Scale(alpha))
	}
}

// VisualPos returns the position currently shown for an entity.
func (r *Reconciler) VisualPos(id world.ID) (world.Vec2, bool) {
	v, ok := r.visuals[id]
	if !ok {
		return world.Vec2{}, false
	}
	return v.pos, true
}

// Tracked returns the number of entities with a visual state.
func (r *Reconciler) Tracked() int { return len(r.visuals) }
