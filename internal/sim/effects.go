package sim

import "github.com/lagless/engine/internal/world"

// ReplayPolicy controls what happens to side effects produced by frames that
// run during a rollback resimulation. Replayed frames recompute hits and
// destructions that may already have fired live, or may be revised again by
// the next correction, so replay effects never pass through unmarked.
type ReplayPolicy int

const (
	// PolicyDefer buffers replay effects and settles the survivors once the
	// pass commits at the authoritative frame. The default.
	PolicyDefer ReplayPolicy = iota
	// PolicySuppress discards replay effects entirely.
	PolicySuppress
	// PolicyQuiet emits replay effects immediately, flagged as replayed so
	// the presentation layer can attenuate them.
	PolicyQuiet
)

// ParsePolicy maps a config string to a policy. Unknown values fall back to
// defer.
func ParsePolicy(s string) ReplayPolicy {
	switch s {
	case "suppress":
		return PolicySuppress
	case "quiet":
		return PolicyQuiet
	default:
		return PolicyDefer
	}
}

func (p ReplayPolicy) String() string {
	switch p {
	case PolicySuppress:
		return "suppress"
	case PolicyQuiet:
		return "quiet"
	default:
		return "defer"
	}
}

// HitRecord is one analytics row describing a processed detector event.
type HitRecord struct {
	Frame     uint64
	Time      float64 // logical time of application
	EventTime float64 // detector timestamp
	Target    world.ID
	Kind      string // "hit" or "miss"
	Destroyed bool
	Replayed  bool
}

// Effects is the outward side-effect sink. Both methods are fire-and-forget;
// the simulation never blocks on them. replayed marks effects produced by a
// correction pass so the presentation layer can attenuate them.
type Effects interface {
	PlaySound(name string, pos world.Vec2, replayed bool)
	RecordHit(rec HitRecord)
}

type deferredSound struct {
	name string
	pos  world.Vec2
}

// BeginReplay arms the gate; until EndReplay, effects follow the replay
// policy instead of passing straight through.
func (s *Sim) BeginReplay() {
	s.replaying = true
	s.pendingSounds = s.pendingSounds[:0]
	s.pendingHits = s.pendingHits[:0]
}

// EndReplay disarms the gate. With commit true, deferred effects are settled
// now; otherwise they are discarded (abandoned or failed pass).
func (s *Sim) EndReplay(commit bool) {
	s.replaying = false
	if commit && s.effects != nil && s.policy == PolicyDefer {
		for _, snd := range s.pendingSounds {
			s.effects.PlaySound(snd.name, snd.pos, true)
		}
		for _, rec := range s.pendingHits {
			s.effects.RecordHit(rec)
		}
	}
	s.pendingSounds = s.pendingSounds[:0]
	s.pendingHits = s.pendingHits[:0]
}

func (s *Sim) emitSound(name string, pos world.Vec2) {
	if s.effects == nil {
		return
	}
	if !s.replaying {
		s.effects.PlaySound(name, pos, false)
		return
	}
	switch s.policy {
	case PolicySuppress:
	case PolicyQuiet:
		s.effects.PlaySound(name, pos, true)
	default:
		s.pendingSounds = append(s.pendingSounds, deferredSound{name: name, pos: pos})
	}
}

func (s *Sim) emitHit(rec HitRecord) {
	if s.effects == nil {
		return
	}
	if !s.replaying {
		s.effects.RecordHit(rec)
		return
	}
	rec.Replayed = true
	switch s.policy {
	case PolicySuppress:
	case PolicyQuiet:
		s.effects.RecordHit(rec)
	default:
		s.pendingHits = append(s.pendingHits, rec)
	}
}
