package sim

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/lagless/engine/internal/event"
	"github.com/lagless/engine/internal/rollback"
	"github.com/lagless/engine/internal/snapshot"
	"github.com/lagless/engine/internal/world"
)

const (
	arenaW = 320.0
	arenaH = 240.0
	dt     = 1.0 / 60
)

type recordedEffects struct {
	sounds   []string
	replayed []bool
	hits     []HitRecord
}

func (r *recordedEffects) PlaySound(name string, pos world.Vec2, replayed bool) {
	r.sounds = append(r.sounds, name)
	r.replayed = append(r.replayed, replayed)
}

func (r *recordedEffects) RecordHit(rec HitRecord) {
	r.hits = append(r.hits, rec)
}

func brick(id world.ID, x, y float64, hp int) *world.Entity {
	return &world.Entity{
		ID: id, Kind: "brick", Alive: true,
		Pos: world.Vec2{X: x, Y: y}, Size: world.Vec2{X: 30, Y: 10},
		HP: hp, Score: 10,
	}
}

func ball(x, y, vx, vy float64) *world.Entity {
	return &world.Entity{
		ID: "ball_1", Kind: "ball", Alive: true,
		Pos: world.Vec2{X: x, Y: y}, Vel: world.Vec2{X: vx, Y: vy},
		Size: world.Vec2{X: 6, Y: 6}, HP: 1,
	}
}

// hitAt builds a hit event whose normalized position lands on the given
// arena coordinates
func hitAt(ts, x, y float64) event.Event {
	return event.Event{Kind: event.KindHit, Pos: world.Vec2{X: x / arenaW, Y: y / arenaH}, Timestamp: ts}
}

// TestApplyEventDamagesBrick verifies a hit event decrements the target's HP
func TestApplyEventDamagesBrick(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 2))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyDefer, zap.NewNop())

	if err := s.ApplyEvent(w, hitAt(0.5, 50, 20)); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if got := w.Get("brick_1").HP; got != 1 {
		t.Errorf("hp = %d, want 1", got)
	}
	if len(fx.hits) != 1 || fx.hits[0].Target != "brick_1" || fx.hits[0].Destroyed {
		t.Errorf("hit record = %+v, want non-destroying hit on brick_1", fx.hits)
	}
}

// TestApplyEventDestroysBrick verifies the last hit kills the brick and
// awards its score
func TestApplyEventDestroysBrick(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 1))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyDefer, zap.NewNop())

	if err := s.ApplyEvent(w, hitAt(0.5, 50, 20)); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if w.Get("brick_1").Alive {
		t.Error("brick still alive after lethal hit")
	}
	if w.Score != 10 {
		t.Errorf("score = %d, want 10", w.Score)
	}
	if len(fx.hits) != 1 || !fx.hits[0].Destroyed {
		t.Errorf("hit record = %+v, want destroying hit", fx.hits)
	}
}

// TestApplyEventNoTarget verifies a hit with no live brick under it reports a
// stale entity
func TestApplyEventNoTarget(t *testing.T) {
	w := world.NewWorld(1)
	s := NewSim(arenaW, arenaH, nil, nil, PolicyDefer, zap.NewNop())

	err := s.ApplyEvent(w, hitAt(0.5, 300, 200))
	if !errors.Is(err, rollback.ErrStaleEntity) {
		t.Errorf("err = %v, want ErrStaleEntity", err)
	}
}

// TestApplyEventMiss verifies a miss needs no target and is still recorded
func TestApplyEventMiss(t *testing.T) {
	w := world.NewWorld(1)
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyDefer, zap.NewNop())

	ev := event.Event{Kind: event.KindMiss, Pos: world.Vec2{X: 0.9, Y: 0.9}, Timestamp: 0.5}
	if err := s.ApplyEvent(w, ev); err != nil {
		t.Fatalf("ApplyEvent miss: %v", err)
	}
	if len(fx.hits) != 1 || fx.hits[0].Kind != "miss" {
		t.Errorf("records = %+v, want one miss", fx.hits)
	}
}

// TestStepWallBounce verifies a ball reflects off the arena edge
func TestStepWallBounce(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(ball(arenaW-4, 120, 120, 0))
	s := NewSim(arenaW, arenaH, nil, nil, PolicyDefer, zap.NewNop())

	if err := s.Step(w, dt); err != nil {
		t.Fatalf("Step: %v", err)
	}
	b := w.Get("ball_1")
	if b.Vel.X >= 0 {
		t.Errorf("vel.X = %g after hitting right wall, want negative", b.Vel.X)
	}
	if b.Pos.X+b.Size.X/2 > arenaW {
		t.Errorf("ball left the arena: x = %g", b.Pos.X)
	}
}

// TestStepBallDamagesBrick verifies ball/brick contact damages the brick and
// deflects the ball
func TestStepBallDamagesBrick(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 100, 100, 2))
	w.Add(ball(100, 112, 0, -120))
	s := NewSim(arenaW, arenaH, nil, nil, PolicyDefer, zap.NewNop())

	for i := 0; i < 10; i++ {
		if err := s.Step(w, dt); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if got := w.Get("brick_1").HP; got != 1 {
		t.Errorf("brick hp = %d after contact, want 1", got)
	}
	if w.Get("ball_1").Vel.Y <= 0 {
		t.Error("ball not deflected off the brick")
	}
}

// TestStepDeterminism verifies two runs from identical state produce
// bit-identical worlds
func TestStepDeterminism(t *testing.T) {
	build := func() *world.World {
		w := world.NewWorld(7)
		w.Add(brick("brick_1", 100, 40, 2))
		w.Add(brick("brick_2", 180, 40, 1))
		w.Add(ball(160, 200, 60, -60))
		return w
	}
	w1, w2 := build(), build()
	s := NewSim(arenaW, arenaH, nil, nil, PolicyDefer, zap.NewNop())

	for i := 0; i < 300; i++ {
		if err := s.Step(w1, dt); err != nil {
			t.Fatalf("Step w1: %v", err)
		}
		if err := s.Step(w2, dt); err != nil {
			t.Fatalf("Step w2: %v", err)
		}
	}
	f1 := snapshot.CaptureDetached(w1).Fingerprint()
	f2 := snapshot.CaptureDetached(w2).Fingerprint()
	if f1 != f2 {
		t.Errorf("runs diverged:\n%s\n---\n%s", f1, f2)
	}
}

// TestScheduledDestroyFires verifies a queued destroy callback kills its
// target at the right frame
func TestScheduledDestroyFires(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 1))
	w.Schedule(world.Callback{FireAt: 3 * dt, Name: "destroy", Target: "brick_1"})
	s := NewSim(arenaW, arenaH, nil, nil, PolicyDefer, zap.NewNop())

	s.Step(w, dt)
	s.Step(w, dt)
	if w.Get("brick_1") == nil {
		t.Fatal("callback fired early")
	}
	s.Step(w, dt)
	if w.Get("brick_1") != nil {
		t.Error("brick survived its destroy callback")
	}
}

// TestPhaseCleared verifies the phase flips once the last brick dies
func TestPhaseCleared(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 1))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyDefer, zap.NewNop())

	s.ApplyEvent(w, hitAt(0.0, 50, 20))
	s.Step(w, dt)
	if w.Phase != "cleared" {
		t.Errorf("phase = %q, want cleared", w.Phase)
	}
}

// TestDeferPolicyBuffersReplayEffects verifies replay effects only reach the
// sink when the pass commits
func TestDeferPolicyBuffersReplayEffects(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 2))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyDefer, zap.NewNop())

	s.BeginReplay()
	s.ApplyEvent(w, hitAt(0.0, 50, 20))
	if len(fx.sounds) != 0 || len(fx.hits) != 0 {
		t.Fatal("effects leaked out mid-replay under defer policy")
	}
	s.EndReplay(true)
	if len(fx.sounds) == 0 || len(fx.hits) != 1 {
		t.Errorf("deferred effects not settled on commit: sounds=%d hits=%d", len(fx.sounds), len(fx.hits))
	}
	if !fx.hits[0].Replayed {
		t.Error("settled record not marked replayed")
	}
}

// TestDeferPolicyDiscardsOnAbort verifies an abandoned pass drops its
// buffered effects
func TestDeferPolicyDiscardsOnAbort(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 2))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyDefer, zap.NewNop())

	s.BeginReplay()
	s.ApplyEvent(w, hitAt(0.0, 50, 20))
	s.EndReplay(false)
	if len(fx.sounds) != 0 || len(fx.hits) != 0 {
		t.Errorf("aborted pass leaked effects: sounds=%d hits=%d", len(fx.sounds), len(fx.hits))
	}
}

// TestSuppressPolicyDropsReplayEffects verifies suppress never emits replay
// effects, even on commit
func TestSuppressPolicyDropsReplayEffects(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 2))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicySuppress, zap.NewNop())

	s.BeginReplay()
	s.ApplyEvent(w, hitAt(0.0, 50, 20))
	s.EndReplay(true)
	if len(fx.sounds) != 0 || len(fx.hits) != 0 {
		t.Errorf("suppress policy leaked effects: sounds=%d hits=%d", len(fx.sounds), len(fx.hits))
	}
}

// TestQuietPolicyMarksReplayEffects verifies quiet emits immediately with
// the replayed flag set
func TestQuietPolicyMarksReplayEffects(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 2))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyQuiet, zap.NewNop())

	s.BeginReplay()
	s.ApplyEvent(w, hitAt(0.0, 50, 20))
	if len(fx.sounds) == 0 || len(fx.hits) != 1 {
		t.Fatalf("quiet policy withheld effects: sounds=%d hits=%d", len(fx.sounds), len(fx.hits))
	}
	for i, rep := range fx.replayed {
		if !rep {
			t.Errorf("sound %d (%s) not marked replayed", i, fx.sounds[i])
		}
	}
	if !fx.hits[0].Replayed {
		t.Error("hit record not marked replayed")
	}
	s.EndReplay(true)
}

// TestLiveEffectsPassThrough verifies effects outside a replay go straight to
// the sink unmarked
func TestLiveEffectsPassThrough(t *testing.T) {
	w := world.NewWorld(1)
	w.Add(brick("brick_1", 50, 20, 2))
	fx := &recordedEffects{}
	s := NewSim(arenaW, arenaH, nil, fx, PolicyDefer, zap.NewNop())

	s.ApplyEvent(w, hitAt(0.0, 50, 20))
	if len(fx.hits) != 1 || fx.hits[0].Replayed {
		t.Errorf("live record = %+v, want one unreplayed hit", fx.hits)
	}
}
