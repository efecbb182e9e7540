package world

import "sort"

// ID is a stable entity identity. It never changes across capture/restore
// cycles; parent/child links are stored as IDs, never as pointers, so a
// restore cannot resurrect stale references or ownership cycles.
type ID string

// Props is the open, string-keyed property map behaviors own. Values are
// restricted to scalars (float64, string, bool) so a deep copy is a plain
// map copy and Lua round-trips losslessly.
type Props map[string]any

// Clone deep-copies the property map. Never alias Props between a live
// entity and a snapshot.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SortedKeys returns the property keys in sorted order, for deterministic
// iteration and fingerprinting.
func (p Props) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BehaviorRef binds a named behavior script plus its per-entity config.
type BehaviorRef struct {
	Name   string
	Config map[string]float64
}

// Entity is one live simulation object. Mutated only by the currently
// active pass (live frame or replay) on the game-loop goroutine.
type Entity struct {
	ID    ID
	Kind  string // "brick", "ball", ...
	Alive bool

	Pos  Vec2
	Vel  Vec2
	Size Vec2 // width/height of the AABB centered on Pos

	Color  string
	Sprite string

	HP    int
	Score int // score awarded when this entity is destroyed

	Props Props

	Parent   ID
	Children []ID

	Behaviors []BehaviorRef
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Props = e.Props.Clone()
	if e.Children != nil {
		c.Children = make([]ID, len(e.Children))
		copy(c.Children, e.Children)
	}
	if e.Behaviors != nil {
		c.Behaviors = make([]BehaviorRef, len(e.Behaviors))
		for i, b := range e.Behaviors {
			cb := BehaviorRef{Name: b.Name}
			if b.Config != nil {
				cb.Config = make(map[string]float64, len(b.Config))
				for k, v := range b.Config {
					cb.Config[k] = v
				}
			}
			c.Behaviors[i] = cb
		}
	}
	return &c
}

// Contains reports whether a point lies inside the entity's AABB.
func (e *Entity) Contains(p Vec2) bool {
	hw, hh := e.Size.X/2, e.Size.Y/2
	return p.X >= e.Pos.X-hw && p.X <= e.Pos.X+hw &&
		p.Y >= e.Pos.Y-hh && p.Y <= e.Pos.Y+hh
}
