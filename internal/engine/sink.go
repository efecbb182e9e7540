package engine

import (
	"github.com/lagless/engine/internal/sim"
	"github.com/lagless/engine/internal/source"
	"github.com/lagless/engine/internal/world"
)

// Recorder receives analytics rows. Satisfied by telemetry.Recorder; nil
// when telemetry is disabled.
type Recorder interface {
	Record(rec sim.HitRecord)
}

// Sink collects the frame's outward effects: sounds accumulate until the
// loop ships them with the state broadcast, hit records go straight to the
// recorder. Game-loop goroutine only.
type Sink struct {
	recorder Recorder
	sounds   []source.SoundDTO
}

func NewSink(recorder Recorder) *Sink {
	return &Sink{recorder: recorder}
}

func (s *Sink) PlaySound(name string, pos world.Vec2, replayed bool) {
	s.sounds = append(s.sounds, source.SoundDTO{
		Name:     name,
		X:        pos.X,
		Y:        pos.Y,
		Replayed: replayed,
	})
}

func (s *Sink) RecordHit(rec sim.HitRecord) {
	if s.recorder != nil {
		s.recorder.Record(rec)
	}
}

// TakeSounds returns the sounds accumulated since the last call.
func (s *Sink) TakeSounds() []source.SoundDTO {
	out := s.sounds
	s.sounds = nil
	return out
}
