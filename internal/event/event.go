package event

import "github.com/lagless/engine/internal/world"

// Kind discriminates input event types coming off the detector.
type Kind uint8

const (
	// KindHit is a detected physical impact at a normalized position.
	KindHit Kind = iota
	// KindMiss is a detected throw that hit the backdrop but no target;
	// carried through the same path so behaviors can react to near-misses.
	KindMiss
)

func (k Kind) String() string {
	switch k {
	case KindHit:
		return "hit"
	case KindMiss:
		return "miss"
	default:
		return "unknown"
	}
}

// Event is one timestamped detector input. Timestamp is the logical time the
// physical action actually occurred, not when the detector reported it; the
// gap between the two is what the rollback coordinator compensates for.
type Event struct {
	Kind      Kind
	Pos       world.Vec2 // normalized [0,1]×[0,1]
	Timestamp float64    // logical seconds
}

// Same reports an exact duplicate (kind + position + timestamp). Detectors
// occasionally re-deliver a frame; the queue drops exact repeats.
func (e Event) Same(o Event) bool {
	return e.Kind == o.Kind && e.Timestamp == o.Timestamp && e.Pos == o.Pos
}
