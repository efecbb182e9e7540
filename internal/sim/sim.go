package sim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lagless/engine/internal/behavior"
	"github.com/lagless/engine/internal/event"
	"github.com/lagless/engine/internal/rollback"
	"github.com/lagless/engine/internal/world"
)

// Sim is the deterministic simulation core: a brick arena with bouncing
// balls, damaged by detector hit events. Step and ApplyEvent are the only
// mutation paths and both are pure functions of world state plus inputs, so
// a restored snapshot replayed with the same events lands on bit-identical
// state. No wall-clock reads, no map-order iteration, randomness only
// through the world's generator.
type Sim struct {
	W, H float64 // arena size in world units

	engine  *behavior.Engine // optional scripted hooks
	effects Effects          // optional outward sink
	policy  ReplayPolicy
	log     *zap.Logger

	replaying     bool
	pendingSounds []deferredSound
	pendingHits   []HitRecord
}

func NewSim(width, height float64, engine *behavior.Engine, effects Effects, policy ReplayPolicy, log *zap.Logger) *Sim {
	return &Sim{
		W:       width,
		H:       height,
		engine:  engine,
		effects: effects,
		policy:  policy,
		log:     log,
	}
}

// Step advances the world by one fixed timestep. The internal order is
// fixed: advance clock, integrate motion, fire due callbacks, run step
// hooks, sweep the dead, update the phase.
func (s *Sim) Step(w *world.World, dt float64) error {
	w.Clock.Advance(dt)
	now := w.Clock.Elapsed

	for _, id := range w.SortedIDs() {
		e := w.Get(id)
		if !e.Alive {
			continue
		}
		s.integrate(w, e, dt)
	}

	for _, cb := range w.DueCallbacks(now) {
		s.fireCallback(w, cb, now)
	}

	if s.engine != nil {
		for _, id := range w.SortedIDs() {
			e := w.Get(id)
			if e == nil || !e.Alive {
				continue
			}
			s.runHooks(w, e, now, hookStep, nil)
		}
	}

	w.Sweep()

	if w.Phase == "playing" && s.countAlive(w, "brick") == 0 {
		w.Phase = "cleared"
	}
	return nil
}

// ApplyEvent runs the hit-processing path, identical for live and replayed
// application. Hit positions arrive normalized to [0,1] and are mapped to
// arena coordinates here.
func (s *Sim) ApplyEvent(w *world.World, ev event.Event) error {
	pos := world.Vec2{X: ev.Pos.X * s.W, Y: ev.Pos.Y * s.H}
	now := w.Clock.Elapsed

	if ev.Kind == event.KindMiss {
		s.emitHit(HitRecord{
			Frame:     w.Clock.Frame,
			Time:      now,
			EventTime: ev.Timestamp,
			Kind:      "miss",
		})
		return nil
	}

	// Lowest id wins when bricks overlap, so live and replay agree.
	var target *world.Entity
	for _, id := range w.SortedIDs() {
		e := w.Get(id)
		if e.Alive && e.Kind == "brick" && e.Contains(pos) {
			target = e
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: no live brick at (%.1f, %.1f) for event t=%.3f",
			rollback.ErrStaleEntity, pos.X, pos.Y, ev.Timestamp)
	}

	destroyed := s.damage(w, target, 1, now)
	s.emitHit(HitRecord{
		Frame:     w.Clock.Frame,
		Time:      now,
		EventTime: ev.Timestamp,
		Target:    target.ID,
		Kind:      "hit",
		Destroyed: destroyed,
	})
	return nil
}

// integrate moves one entity and resolves wall and brick contacts. Only
// moving entities (balls) collide; bricks are static.
func (s *Sim) integrate(w *world.World, e *world.Entity, dt float64) {
	if e.Vel.X == 0 && e.Vel.Y == 0 {
		return
	}
	e.Pos = e.Pos.Add(e.Vel.Scale(dt))

	hw, hh := e.Size.X/2, e.Size.Y/2
	if e.Pos.X-hw < 0 {
		e.Pos.X = hw
		e.Vel.X = -e.Vel.X
		s.emitSound("bounce", e.Pos)
	} else if e.Pos.X+hw > s.W {
		e.Pos.X = s.W - hw
		e.Vel.X = -e.Vel.X
		s.emitSound("bounce", e.Pos)
	}
	if e.Pos.Y-hh < 0 {
		e.Pos.Y = hh
		e.Vel.Y = -e.Vel.Y
		s.emitSound("bounce", e.Pos)
	} else if e.Pos.Y+hh > s.H {
		e.Pos.Y = s.H - hh
		e.Vel.Y = -e.Vel.Y
		s.emitSound("bounce", e.Pos)
	}

	if e.Kind != "ball" {
		return
	}
	for _, id := range w.SortedIDs() {
		b := w.Get(id)
		if !b.Alive || b.Kind != "brick" || !overlap(e, b) {
			continue
		}
		s.deflect(e, b)
		s.damage(w, b, 1, w.Clock.Elapsed)
		break // one contact per frame keeps resolution stable
	}
}

// deflect reflects a ball off a brick along the axis of least penetration.
func (s *Sim) deflect(ball, brick *world.Entity) {
	dx := ball.Pos.X - brick.Pos.X
	dy := ball.Pos.Y - brick.Pos.Y
	px := (ball.Size.X+brick.Size.X)/2 - abs(dx)
	py := (ball.Size.Y+brick.Size.Y)/2 - abs(dy)
	if px < py {
		ball.Vel.X = -ball.Vel.X
		if dx < 0 {
			ball.Pos.X -= px
		} else {
			ball.Pos.X += px
		}
	} else {
		ball.Vel.Y = -ball.Vel.Y
		if dy < 0 {
			ball.Pos.Y -= py
		} else {
			ball.Pos.Y += py
		}
	}
	s.emitSound("bounce", ball.Pos)
}

// damage applies damage to an entity, runs its on_hit hooks, and handles
// destruction. Reports whether the entity was destroyed by this call.
func (s *Sim) damage(w *world.World, e *world.Entity, amount int, now float64) bool {
	if !e.Alive {
		return false
	}
	e.HP -= amount
	s.emitSound("hit", e.Pos)
	s.runHooks(w, e, now, hookHit, nil)

	if e.Alive && e.HP <= 0 {
		s.destroy(w, e)
		return true
	}
	return !e.Alive
}

func (s *Sim) destroy(w *world.World, e *world.Entity) {
	if !e.Alive {
		return
	}
	e.Alive = false
	w.Score += e.Score
	s.emitSound("break", e.Pos)
	// Children go down with the parent.
	for _, cid := range e.Children {
		if c := w.Get(cid); c != nil && c.Alive {
			s.destroy(w, c)
		}
	}
}

const (
	hookHit   = "on_hit"
	hookStep  = "on_step"
	hookTimer = "on_timer"
)

// runHooks invokes every behavior bound to the entity for the given hook and
// executes the resulting commands. Each call gets exactly one pre-drawn
// random number; scripts never touch a clock or RNG of their own.
func (s *Sim) runHooks(w *world.World, e *world.Entity, now float64, hook string, payload map[string]float64) {
	if s.engine == nil {
		return
	}
	for _, ref := range e.Behaviors {
		if !s.engine.Has(ref.Name, hook) {
			continue
		}
		cfg := ref.Config
		if payload != nil {
			cfg = make(map[string]float64, len(ref.Config)+len(payload))
			for k, v := range ref.Config {
				cfg[k] = v
			}
			for k, v := range payload {
				cfg[k] = v
			}
		}
		ctx := behavior.Context{
			Entity: e.ID,
			Kind:   e.Kind,
			Pos:    e.Pos,
			Vel:    e.Vel,
			HP:     e.HP,
			Time:   now,
			Rand:   w.Rand.Float64(),
			Props:  e.Props,
			Config: cfg,
		}
		var res behavior.Result
		var ok bool
		switch hook {
		case hookHit:
			res, ok = s.engine.OnHit(ref.Name, ctx)
		case hookStep:
			res, ok = s.engine.OnStep(ref.Name, ctx)
		case hookTimer:
			res, ok = s.engine.OnTimer(ref.Name, ctx)
		}
		if !ok {
			continue
		}
		e.Props = res.Props
		s.execCommands(w, e, res.Commands, now)
	}
}

func (s *Sim) execCommands(w *world.World, e *world.Entity, cmds []behavior.Command, now float64) {
	for _, cmd := range cmds {
		switch cmd.Type {
		case "set_vel":
			e.Vel = world.Vec2{X: cmd.X, Y: cmd.Y}
		case "destroy":
			s.destroy(w, e)
		case "score":
			w.Score += cmd.Amount
		case "schedule":
			w.Schedule(world.Callback{
				FireAt: now + cmd.Delay,
				Name:   cmd.Name,
				Target: e.ID,
			})
		case "sound":
			s.emitSound(cmd.Name, e.Pos)
		case "spawn":
			c := w.Spawn(cmd.Name)
			c.Pos = e.Pos
			c.Vel = world.Vec2{X: cmd.X, Y: cmd.Y}
			c.Size = world.Vec2{X: 8, Y: 8}
			c.HP = 1
			c.Parent = e.ID
			e.Children = append(e.Children, c.ID)
		default:
			s.log.Warn("unknown behavior command", zap.String("type", cmd.Type), zap.String("entity", string(e.ID)))
		}
	}
}

// fireCallback handles a due scheduled callback. "destroy" is built in;
// anything else is dispatched to the target's on_timer hooks.
func (s *Sim) fireCallback(w *world.World, cb world.Callback, now float64) {
	target := w.Get(cb.Target)
	if target == nil || !target.Alive {
		return
	}
	if cb.Name == "destroy" {
		s.destroy(w, target)
		return
	}
	s.runHooks(w, target, now, hookTimer, cb.Payload)
}

func (s *Sim) countAlive(w *world.World, kind string) int {
	n := 0
	w.ForEach(func(e *world.Entity) {
		if e.Alive && e.Kind == kind {
			n++
		}
	})
	return n
}

func overlap(a, b *world.Entity) bool {
	return abs(a.Pos.X-b.Pos.X) <= (a.Size.X+b.Size.X)/2 &&
		abs(a.Pos.Y-b.Pos.Y) <= (a.Size.Y+b.Size.Y)/2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
