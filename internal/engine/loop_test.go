package engine

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lagless/engine/internal/event"
	"github.com/lagless/engine/internal/reconcile"
	"github.com/lagless/engine/internal/rollback"
	"github.com/lagless/engine/internal/sim"
	"github.com/lagless/engine/internal/snapshot"
	"github.com/lagless/engine/internal/source"
	"github.com/lagless/engine/internal/world"
)

const (
	arenaW = 320.0
	arenaH = 240.0
	dt     = 1.0 / 60
)

type capturedHits struct {
	recs []sim.HitRecord
}

func (c *capturedHits) Record(rec sim.HitRecord) { c.recs = append(c.recs, rec) }

type loopHarness struct {
	w     *world.World
	loop  *Loop
	sink  *Sink
	hub   *source.Hub
	queue *event.Queue
	hits  *capturedHits
}

func newLoopHarness(t *testing.T) *loopHarness {
	t.Helper()
	log := zap.NewNop()

	w := world.NewWorld(1)
	w.Add(&world.Entity{
		ID: "brick_1", Kind: "brick", Alive: true,
		Pos: world.Vec2{X: 100, Y: 100}, Size: world.Vec2{X: 30, Y: 10},
		HP: 1, Score: 10,
	})
	w.Add(&world.Entity{
		ID: "ball_1", Kind: "ball", Alive: true,
		Pos: world.Vec2{X: 250, Y: 200}, Vel: world.Vec2{X: 10, Y: 10},
		Size: world.Vec2{X: 6, Y: 6}, HP: 1,
	})

	hits := &capturedHits{}
	sink := NewSink(hits)
	core := sim.NewSim(arenaW, arenaH, nil, sink, sim.PolicyDefer, log)
	store := snapshot.NewStore(1.0, 60)
	queue := event.NewQueue()
	coord := rollback.NewCoordinator(store, queue, core, core, dt, log)
	rec := reconcile.NewReconciler(reconcile.Config{})
	hub := source.NewHub(16, time.Second, log)

	return &loopHarness{
		w:     w,
		loop:  NewLoop(w, core, store, queue, coord, rec, hub, sink, dt, 1, log),
		sink:  sink,
		hub:   hub,
		queue: queue,
		hits:  hits,
	}
}

// TestTickAdvancesClock verifies each tick advances exactly one fixed step
func TestTickAdvancesClock(t *testing.T) {
	h := newLoopHarness(t)
	for i := 0; i < 10; i++ {
		h.loop.Tick()
	}
	if h.w.Clock.Frame != 10 {
		t.Errorf("frame = %d after 10 ticks, want 10", h.w.Clock.Frame)
	}
	want := 10 * dt
	if h.w.Clock.Elapsed < want-1e-9 || h.w.Clock.Elapsed > want+1e-9 {
		t.Errorf("elapsed = %g, want %g", h.w.Clock.Elapsed, want)
	}
}

// TestHubEventsReachSimulation verifies a detection pushed through the hub
// lands on the targeted brick within one tick
func TestHubEventsReachSimulation(t *testing.T) {
	h := newLoopHarness(t)
	h.loop.Tick()

	// Normalized coordinates of brick_1's center.
	h.hub.Push(event.Event{
		Kind:      event.KindHit,
		Pos:       world.Vec2{X: 100 / arenaW, Y: 100 / arenaH},
		Timestamp: h.w.Clock.Elapsed,
	})
	out := h.loop.Tick()

	if out.Applied != 1 {
		t.Errorf("applied = %d, want 1", out.Applied)
	}
	if out.RolledBack {
		t.Error("an on-time event triggered a rollback")
	}
	if b := h.w.Get("brick_1"); b != nil && b.Alive {
		t.Error("brick_1 survived a direct hit with 1 hp")
	}
	if h.w.Score != 10 {
		t.Errorf("score = %d, want 10", h.w.Score)
	}
}

// TestLateEventRollsBackThroughLoop verifies the loop routes a late
// detection into a rollback pass and reports it in the outcome
func TestLateEventRollsBackThroughLoop(t *testing.T) {
	h := newLoopHarness(t)
	for i := 0; i < 30; i++ {
		h.loop.Tick()
	}

	// A hit observed 20 frames ago, delivered only now.
	h.hub.Push(event.Event{
		Kind:      event.KindHit,
		Pos:       world.Vec2{X: 100 / arenaW, Y: 100 / arenaH},
		Timestamp: 10 * dt,
	})
	out := h.loop.Tick()

	if !out.RolledBack {
		t.Fatal("late event did not trigger a rollback")
	}
	if out.ReplayedFrames < 15 || out.ReplayedFrames > 25 {
		t.Errorf("replayed %d frames, want roughly 20", out.ReplayedFrames)
	}
	if b := h.w.Get("brick_1"); b != nil && b.Alive {
		t.Error("brick_1 survived the replayed hit")
	}
}

// TestSinkCollectsSoundsAndHits verifies frame effects flow into the sink
// and hit records reach the recorder
func TestSinkCollectsSoundsAndHits(t *testing.T) {
	h := newLoopHarness(t)
	h.loop.Tick()

	h.hub.Push(event.Event{
		Kind:      event.KindHit,
		Pos:       world.Vec2{X: 100 / arenaW, Y: 100 / arenaH},
		Timestamp: h.w.Clock.Elapsed,
	})
	h.loop.Tick()

	if len(h.hits.recs) != 1 {
		t.Fatalf("recorder got %d hit records, want 1", len(h.hits.recs))
	}
	rec := h.hits.recs[0]
	if rec.Target != "brick_1" || !rec.Destroyed || rec.Replayed {
		t.Errorf("hit record = %+v, want brick_1 destroyed, not replayed", rec)
	}
	// Broadcast drains the sink each tick, so after Tick it is empty.
	if sounds := h.sink.TakeSounds(); len(sounds) != 0 {
		t.Errorf("sink held %d sounds after broadcast, want 0", len(sounds))
	}
}

// TestMissRecordsWithoutTarget verifies a miss detection produces a record
// but no state change
func TestMissRecordsWithoutTarget(t *testing.T) {
	h := newLoopHarness(t)
	h.loop.Tick()

	h.hub.Push(event.Event{
		Kind:      event.KindMiss,
		Pos:       world.Vec2{X: 0.1, Y: 0.9},
		Timestamp: h.w.Clock.Elapsed,
	})
	h.loop.Tick()

	if len(h.hits.recs) != 1 || h.hits.recs[0].Kind != "miss" {
		t.Fatalf("recorder got %+v, want one miss record", h.hits.recs)
	}
	if h.w.Score != 0 {
		t.Errorf("score = %d after a miss, want 0", h.w.Score)
	}
	if !h.w.Get("brick_1").Alive {
		t.Error("a miss destroyed a brick")
	}
}
