package rollback

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/lagless/engine/internal/event"
	"github.com/lagless/engine/internal/snapshot"
	"github.com/lagless/engine/internal/world"
)

// Stepper is the deterministic simulation core the coordinator drives. It
// must be callable repeatedly with identical inputs producing identical
// outputs: fixed dt, no wall-clock reads, randomness only through the
// world's generator, sorted-id iteration.
type Stepper interface {
	// Step advances the world by one fixed timestep.
	Step(w *world.World, dt float64) error
	// ApplyEvent runs the hit-processing path, identical in live play and
	// replay. Returns ErrStaleEntity (wrapped) when the event has no live
	// target at this point in time.
	ApplyEvent(w *world.World, ev event.Event) error
}

// EffectGate suppresses real-world side effects (sound, analytics) during
// replay frames. EndReplay(true) lets the sink settle deferred effects once
// at the authoritative frame; EndReplay(false) discards them (abandoned or
// failed pass).
type EffectGate interface {
	BeginReplay()
	EndReplay(commit bool)
}

// Outcome summarizes one Process call, for the frame loop's logging.
type Outcome struct {
	RolledBack     bool
	ReplayedFrames int
	Applied        int
	Degraded       int // window-exceeded events applied at current state
	Dropped        int // stale events discarded
	Restarts       int // passes abandoned for an older mid-pass arrival
}

// Coordinator decides whether incoming events require rollback and drives
// restore + resimulation. Single-goroutine, like everything else in the
// core: a pass runs synchronously inside the frame that triggered it.
type Coordinator struct {
	store   *snapshot.Store
	queue   *event.Queue
	stepper Stepper
	gate    EffectGate // optional
	dt      float64
	log     *zap.Logger
}

func NewCoordinator(store *snapshot.Store, queue *event.Queue, stepper Stepper, gate EffectGate, dt float64, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		queue:   queue,
		stepper: stepper,
		gate:    gate,
		dt:      dt,
		log:     log,
	}
}

// Process consumes one frame's batch of due events. Events that became due
// on schedule are applied directly; late ones trigger a single coalesced
// rollback pass from the minimum timestamp. On return the world is back at
// the current frame with every batch event applied, degraded, or dropped,
// and the event horizon advanced to cutoff.
//
// The returned error is non-fatal by contract: the caller logs it and keeps
// the frame loop running.
func (c *Coordinator) Process(w *world.World, batch []event.Event, cutoff float64) (Outcome, error) {
	var out Outcome
	prevHorizon := w.EventHorizon

	var immediate, delayed []event.Event
	for _, ev := range batch {
		if ev.Timestamp <= prevHorizon {
			delayed = append(delayed, ev)
		} else {
			immediate = append(immediate, ev)
		}
	}

	if len(delayed) == 0 {
		c.applyLive(w, immediate, &out)
		w.EventHorizon = cutoff
		return out, nil
	}

	// Degrade events that predate the retained window; keep the rest for
	// one coalesced pass.
	var replayable []event.Event
	for _, ev := range delayed {
		if c.store.Find(ev.Timestamp) == nil {
			c.degrade(w, ev, &out)
			continue
		}
		replayable = append(replayable, ev)
	}

	if len(replayable) == 0 {
		c.applyLive(w, immediate, &out)
		w.EventHorizon = cutoff
		return out, nil
	}

	// Backup of the pre-pass state: a failed replay unwinds to here.
	backup := snapshot.CaptureDetached(w)
	newEvents := mergeEvents(replayable, immediate)
	var lateDegraded []event.Event

	for {
		snap := c.store.Find(newEvents[0].Timestamp)
		if snap == nil {
			// The window moved past the minimum between passes. Give up on
			// rolling back and apply everything at current state.
			backup.Apply(w)
			for _, ev := range newEvents {
				c.degrade(w, ev, &out)
			}
			w.EventHorizon = cutoff
			return out, nil
		}

		restarted, refreshed, err := c.replay(w, snap, newEvents, cutoff, backup.Frame, &out)
		if err != nil {
			backup.Apply(w)
			// The batch stays pending: the next frame drains it again, so a
			// stepper failure delays these events instead of losing them.
			for _, ev := range newEvents {
				c.queue.Insert(ev)
			}
			for _, ev := range lateDegraded {
				c.queue.Insert(ev)
			}
			return out, fmt.Errorf("resimulating %d frames from t=%.3f: %w", backup.Frame-snap.Frame, snap.Elapsed, err)
		}
		if !restarted {
			// Commit: the recomputed frames replace their stale snapshots so
			// the store tracks the corrected timeline. Only a completed pass
			// writes; abandoned and failed passes leave history untouched.
			for _, g := range refreshed {
				c.store.Refresh(g)
			}
			break
		}

		// An older event became known mid-pass: abandon and restart from
		// the new minimum instead of patching the in-flight replay.
		out.Restarts++
		for _, ev := range c.queue.DrainDue(cutoff) {
			if ev.Timestamp <= prevHorizon && c.store.Find(ev.Timestamp) == nil {
				lateDegraded = append(lateDegraded, ev)
				continue
			}
			newEvents = mergeEvents(newEvents, []event.Event{ev})
		}
		backup.Apply(w)
	}

	for _, ev := range newEvents {
		c.queue.MarkApplied(ev)
	}
	if oldest, ok := c.store.Oldest(); ok {
		c.queue.PruneApplied(oldest)
	}
	for _, ev := range lateDegraded {
		c.degrade(w, ev, &out)
	}

	out.RolledBack = true
	w.EventHorizon = cutoff
	return out, nil
}

// replay restores the snapshot and steps forward to targetFrame, applying
// both the new events and the previously applied events the restore undid,
// each at the frame where it was (or would have been) due. On success it
// returns the recomputed per-frame snapshots for the caller to commit into
// the store.
func (c *Coordinator) replay(w *world.World, snap *snapshot.Global, newEvents []event.Event, cutoff float64, targetFrame uint64, out *Outcome) (restarted bool, refreshed []*snapshot.Global, err error) {
	c.store.Restore(w, snap)

	merged := mergeEvents(newEvents, c.queue.AppliedAfter(snap.Horizon))

	if c.gate != nil {
		c.gate.BeginReplay()
	}
	commit := false
	defer func() {
		if c.gate != nil {
			c.gate.EndReplay(commit)
		}
	}()

	// Mirror the live frame order exactly: capture at frame start, apply the
	// frame's due events at the current elapsed time, then step. The restored
	// snapshot was captured before that frame's applications, so the first
	// iteration re-applies them at the same elapsed time live play did.
	idx := 0
	for w.Clock.Frame < targetFrame {
		refreshed = append(refreshed, snapshot.CaptureDetached(w))

		frameCutoff := w.Clock.Elapsed
		for idx < len(merged) && merged[idx].Timestamp <= frameCutoff {
			c.applyOne(w, merged[idx], out)
			idx++
		}
		w.EventHorizon = frameCutoff

		if err := c.stepper.Step(w, c.dt); err != nil {
			return false, nil, fmt.Errorf("%w: %v", ErrReplayFailed, err)
		}
		out.ReplayedFrames++

		if ts, ok := c.queue.OldestPending(); ok && ts <= cutoff {
			return true, nil, nil
		}
	}
	refreshed = append(refreshed, snapshot.CaptureDetached(w))

	// Back at the triggering frame: apply everything left that is due now,
	// including the events that caused the rollback.
	for idx < len(merged) && merged[idx].Timestamp <= cutoff {
		c.applyOne(w, merged[idx], out)
		idx++
	}
	commit = true
	return false, refreshed, nil
}

func (c *Coordinator) applyLive(w *world.World, evs []event.Event, out *Outcome) {
	sorted := make([]event.Event, len(evs))
	copy(sorted, evs)
	sortByTimestamp(sorted)
	for _, ev := range sorted {
		c.applyOne(w, ev, out)
		c.queue.MarkApplied(ev)
	}
}

// degrade applies a window-exceeded event to the current state with one
// degradation notice. A deliberate best-effort fallback: the hit lands late
// rather than not at all.
func (c *Coordinator) degrade(w *world.World, ev event.Event, out *Outcome) {
	c.log.Warn("event predates snapshot history, applying at current state",
		zap.Float64("event_ts", ev.Timestamp),
		zap.Float64("now", w.Clock.Elapsed),
		zap.String("kind", ev.Kind.String()),
		zap.Error(ErrWindowExceeded))
	c.applyOne(w, ev, out)
	// Record the application at the instant it actually landed, not the
	// original timestamp: a later rollback past this frame re-injects the hit
	// here instead of erasing it (the original timestamp predates every
	// snapshot horizon, so it would never qualify for re-injection).
	applied := ev
	applied.Timestamp = w.Clock.Elapsed
	c.queue.MarkApplied(applied)
	out.Degraded++
}

func (c *Coordinator) applyOne(w *world.World, ev event.Event, out *Outcome) {
	if err := c.stepper.ApplyEvent(w, ev); err != nil {
		if errors.Is(err, ErrStaleEntity) {
			c.log.Warn("dropping event with no live target",
				zap.Float64("event_ts", ev.Timestamp),
				zap.String("kind", ev.Kind.String()),
				zap.Error(err))
			out.Dropped++
			return
		}
		c.log.Warn("event application failed",
			zap.Float64("event_ts", ev.Timestamp),
			zap.Error(err))
		out.Dropped++
		return
	}
	out.Applied++
}

// mergeEvents combines two batches into one timestamp-sorted list, dropping
// exact duplicates. Tie-break order matches the queue's drain order so
// replay and live play agree.
func mergeEvents(a, b []event.Event) []event.Event {
	merged := make([]event.Event, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sortByTimestamp(merged)
	out := merged[:0]
	for _, ev := range merged {
		if len(out) > 0 && out[len(out)-1].Same(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func sortByTimestamp(evs []event.Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Pos.X != b.Pos.X {
			return a.Pos.X < b.Pos.X
		}
		if a.Pos.Y != b.Pos.Y {
			return a.Pos.Y < b.Pos.Y
		}
		return a.Kind < b.Kind
	})
}
