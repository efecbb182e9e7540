package engine

import (
	"context"
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

// Loop drives the fixed-timestep frame cycle. Everything that touches the
// world happens here, on one goroutine: ingest detections, capture a
// snapshot, hand due events to the rollback coordinator, step the
// simulation, reconcile visuals, broadcast.
type Loop struct {
	w     *world.World
	sim   *sim.Sim
	store *snapshot.Store
	queue *event.Queue
	coord *rollback.Coordinator
	rec   *reconcile.Reconciler
	hub   *source.Hub
	sink  *Sink
	dt    float64
	every uint64 // capture a snapshot every N frames
	log   *zap.Logger
}

func NewLoop(
	w *world.World,
	s *sim.Sim,
	store *snapshot.Store,
	queue *event.Queue,
	coord *rollback.Coordinator,
	rec *reconcile.Reconciler,
	hub *source.Hub,
	sink *Sink,
	dt float64,
	snapshotEvery int,
	log *zap.Logger,
) *Loop {
	if snapshotEvery < 1 {
		snapshotEvery = 1
	}
	return &Loop{
		w:     w,
		sim:   s,
		store: store,
		queue: queue,
		coord: coord,
		rec:   rec,
		hub:   hub,
		sink:  sink,
		dt:    dt,
		every: uint64(snapshotEvery),
		log:   log,
	}
}

// Tick runs exactly one frame. Exported so tests can drive the loop without
// the wall-clock ticker.
func (l *Loop) Tick() rollback.Outcome {
	if l.hub != nil {
		for _, ev := range l.hub.Drain() {
			l.queue.Insert(ev)
		}
	}

	// Capture before applying this frame's events, so a restore re-applies
	// them at the same instant.
	if l.w.Clock.Frame%l.every == 0 {
		l.store.Capture(l.w)
	}

	now := l.w.Clock.Elapsed
	batch := l.queue.DrainDue(now)

	out, err := l.coord.Process(l.w, batch, now)
	if err != nil {
		// Non-fatal by contract: the pre-pass state was restored and the
		// loop keeps running.
		l.log.Error("rollback pass failed, keeping current state", zap.Error(err))
	}
	if out.RolledBack {
		l.log.Info("rolled back",
			zap.Int("replayed_frames", out.ReplayedFrames),
			zap.Int("applied", out.Applied),
			zap.Int("restarts", out.Restarts),
			zap.Uint64("frame", l.w.Clock.Frame))
	}

	if err := l.sim.Step(l.w, l.dt); err != nil {
		l.log.Error("step failed", zap.Error(err))
	}

	var hints []reconcile.Hint
	if l.rec != nil {
		hints = l.rec.Observe(l.w, l.w.Clock.Elapsed, out.RolledBack)
		l.rec.Advance(l.w.Clock.Elapsed)
	}

	if l.hub != nil {
		l.hub.Broadcast(l.buildState(out, hints))
	}
	return out
}

// Run ticks the loop at the fixed rate until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) * l.dt)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			l.Tick()
			if spent := time.Since(start); spent > period {
				l.log.Warn("frame over budget",
					zap.Duration("spent", spent),
					zap.Duration("budget", period),
					zap.Uint64("frame", l.w.Clock.Frame))
			}
		}
	}
}

func (l *Loop) buildState(out rollback.Outcome, hints []reconcile.Hint) source.StateMsg {
	msg := source.StateMsg{
		Type:           "state",
		Frame:          l.w.Clock.Frame,
		Now:            l.w.Clock.Elapsed,
		Score:          l.w.Score,
		Phase:          l.w.Phase,
		Sounds:         l.sink.TakeSounds(),
		RolledBack:     out.RolledBack,
		ReplayedFrames: out.ReplayedFrames,
	}

	l.w.ForEach(func(e *world.Entity) {
		if !e.Alive {
			return
		}
		pos := e.Pos
		if l.rec != nil {
			if vp, ok := l.rec.VisualPos(e.ID); ok {
				pos = vp
			}
		}
		msg.Entities = append(msg.Entities, source.EntityDTO{
			ID:     string(e.ID),
			Kind:   e.Kind,
			X:      pos.X,
			Y:      pos.Y,
			VX:     e.Vel.X,
			VY:     e.Vel.Y,
			W:      e.Size.X,
			H:      e.Size.Y,
			Color:  e.Color,
			Sprite: e.Sprite,
			HP:     e.HP,
		})
	})

	for _, h := range hints {
		msg.Hints = append(msg.Hints, source.HintDTO{
			Entity:   string(h.Entity),
			Effect:   h.Kind.String(),
			X:        h.Pos.X,
			Y:        h.Pos.Y,
			Duration: h.Duration,
		})
	}
	return msg
}
