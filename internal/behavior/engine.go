package behavior

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/lagless/engine/internal/world"
)

// Engine wraps a single gopher-lua VM for per-entity scripted logic.
// Single-goroutine access only (game loop).
//
// Determinism contract: scripts hold no durable state of their own. The only
// state that survives a frame is the entity property map, passed in via the
// context and written back from the result, so a restore/replay sees exactly
// what live play saw. Logical time and one pre-drawn random number are
// injected through the context; scripts never touch os.time or math.random.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("behaviors", vm.NewTable())

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load behavior scripts: %w", err)
	}
	return e, nil
}

// NewEngineFromSource builds an engine from an in-memory script, for tests.
func NewEngineFromSource(src string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("behaviors", vm.NewTable())

	e := &Engine{vm: vm, log: log}
	if err := vm.DoString(src); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load behavior source: %w", err)
	}
	return e, nil
}

func (e *Engine) Close() {
	e.vm.Close()
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded behavior script", zap.String("file", path))
	}
	return nil
}

// Context holds pre-packed entity data for one behavior call.
type Context struct {
	Entity world.ID
	Kind   string
	Pos    world.Vec2
	Vel    world.Vec2
	HP     int
	Time   float64 // logical time, never wall clock
	Rand   float64 // one deterministic draw from the world RNG
	Props  world.Props
	Config map[string]float64
}

// Command is one action requested by a script, executed by the stepper.
type Command struct {
	Type   string // "set_vel", "destroy", "score", "schedule", "sound"
	X, Y   float64
	Amount int
	Delay  float64
	Name   string
}

// Result carries the commands plus the updated property map. Props replaces
// the entity's map wholesale: what the script wrote is all that survives.
type Result struct {
	Commands []Command
	Props    world.Props
}

// OnHit calls behaviors.<name>.on_hit(ctx). The bool reports whether such a
// handler exists.
func (e *Engine) OnHit(name string, ctx Context) (Result, bool) {
	return e.call(name, "on_hit", ctx)
}

// OnStep calls behaviors.<name>.on_step(ctx) once per simulated frame.
func (e *Engine) OnStep(name string, ctx Context) (Result, bool) {
	return e.call(name, "on_step", ctx)
}

// OnTimer calls behaviors.<name>.on_timer(ctx) when a scheduled callback
// fires for the entity.
func (e *Engine) OnTimer(name string, ctx Context) (Result, bool) {
	return e.call(name, "on_timer", ctx)
}

// Has reports whether a handler is registered for the behavior name + hook.
func (e *Engine) Has(name, hook string) bool {
	behaviors, ok := e.vm.GetGlobal("behaviors").(*lua.LTable)
	if !ok {
		return false
	}
	entry, ok := behaviors.RawGetString(name).(*lua.LTable)
	if !ok {
		return false
	}
	_, ok = entry.RawGetString(hook).(*lua.LFunction)
	return ok
}

func (e *Engine) call(name, hook string, ctx Context) (Result, bool) {
	behaviors, ok := e.vm.GetGlobal("behaviors").(*lua.LTable)
	if !ok {
		return Result{Props: ctx.Props}, false
	}
	entry, ok := behaviors.RawGetString(name).(*lua.LTable)
	if !ok {
		return Result{Props: ctx.Props}, false
	}
	fn, ok := entry.RawGetString(hook).(*lua.LFunction)
	if !ok {
		return Result{Props: ctx.Props}, false
	}

	t := e.buildContext(ctx)
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("behavior call failed",
			zap.String("behavior", name),
			zap.String("hook", hook),
			zap.Error(err))
		return Result{Props: ctx.Props}, true
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		// nil return means "no changes".
		return Result{Props: ctx.Props}, true
	}
	return e.readResult(rt, ctx), true
}

func (e *Engine) buildContext(ctx Context) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("id", lua.LString(ctx.Entity))
	t.RawSetString("kind", lua.LString(ctx.Kind))
	t.RawSetString("x", lua.LNumber(ctx.Pos.X))
	t.RawSetString("y", lua.LNumber(ctx.Pos.Y))
	t.RawSetString("vx", lua.LNumber(ctx.Vel.X))
	t.RawSetString("vy", lua.LNumber(ctx.Vel.Y))
	t.RawSetString("hp", lua.LNumber(ctx.HP))
	t.RawSetString("time", lua.LNumber(ctx.Time))
	t.RawSetString("rand", lua.LNumber(ctx.Rand))

	props := e.vm.NewTable()
	for _, k := range ctx.Props.SortedKeys() {
		switch v := ctx.Props[k].(type) {
		case float64:
			props.RawSetString(k, lua.LNumber(v))
		case string:
			props.RawSetString(k, lua.LString(v))
		case bool:
			props.RawSetString(k, lua.LBool(v))
		}
	}
	t.RawSetString("props", props)

	cfg := e.vm.NewTable()
	for k, v := range ctx.Config {
		cfg.RawSetString(k, lua.LNumber(v))
	}
	t.RawSetString("config", cfg)
	return t
}

func (e *Engine) readResult(rt *lua.LTable, ctx Context) Result {
	res := Result{Props: ctx.Props}

	if props, ok := rt.RawGetString("props").(*lua.LTable); ok {
		out := make(world.Props)
		props.ForEach(func(k, v lua.LValue) {
			key, ok := k.(lua.LString)
			if !ok {
				return
			}
			switch val := v.(type) {
			case lua.LNumber:
				out[string(key)] = float64(val)
			case lua.LString:
				out[string(key)] = string(val)
			case lua.LBool:
				out[string(key)] = bool(val)
			}
		})
		res.Props = out
	}

	cmds, ok := rt.RawGetString("commands").(*lua.LTable)
	if !ok {
		return res
	}
	n := cmds.Len()
	for i := 1; i <= n; i++ {
		ct, ok := cmds.RawGetInt(i).(*lua.LTable)
		if !ok {
			continue
		}
		cmd := Command{
			Type:   lua.LVAsString(ct.RawGetString("type")),
			X:      float64(lua.LVAsNumber(ct.RawGetString("x"))),
			Y:      float64(lua.LVAsNumber(ct.RawGetString("y"))),
			Amount: int(lua.LVAsNumber(ct.RawGetString("amount"))),
			Delay:  float64(lua.LVAsNumber(ct.RawGetString("delay"))),
			Name:   lua.LVAsString(ct.RawGetString("name")),
		}
		if cmd.Type == "" {
			continue
		}
		res.Commands = append(res.Commands, cmd)
	}
	return res
}
