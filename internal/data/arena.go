package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lagless/engine/internal/world"
)

// Arena is the on-disk arena definition. A grid block stamps out the brick
// field; explicit bricks and balls are listed individually.
type Arena struct {
	Name   string  `yaml:"name"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Seed   uint64  `yaml:"seed"`

	Grid *Grid `yaml:"grid"`

	Bricks []BrickDef `yaml:"bricks"`
	Balls  []BallDef  `yaml:"balls"`

	// Behaviors binds scripts to every entity of a kind.
	Behaviors []BehaviorDef `yaml:"behaviors"`
}

// Grid stamps a row-major field of identical bricks, ids brick_1..brick_N.
type Grid struct {
	Rows    int      `yaml:"rows"`
	Cols    int      `yaml:"cols"`
	OriginX float64  `yaml:"origin_x"`
	OriginY float64  `yaml:"origin_y"`
	CellW   float64  `yaml:"cell_w"`
	CellH   float64  `yaml:"cell_h"`
	HP      int      `yaml:"hp"`
	Score   int      `yaml:"score"`
	Colors  []string `yaml:"colors"` // cycled per row
}

type BrickDef struct {
	ID     string  `yaml:"id"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	W      float64 `yaml:"w"`
	H      float64 `yaml:"h"`
	HP     int     `yaml:"hp"`
	Score  int     `yaml:"score"`
	Color  string  `yaml:"color"`
	Sprite string  `yaml:"sprite"`
}

type BallDef struct {
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
	VX   float64 `yaml:"vx"`
	VY   float64 `yaml:"vy"`
	Size float64 `yaml:"size"`
}

type BehaviorDef struct {
	Kind   string             `yaml:"kind"`
	Name   string             `yaml:"name"`
	Config map[string]float64 `yaml:"config"`
}

// LoadArena reads and validates an arena definition.
func LoadArena(path string) (*Arena, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read arena file: %w", err)
	}
	var a Arena
	if err := yaml.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse arena file %s: %w", path, err)
	}
	if a.Width <= 0 || a.Height <= 0 {
		return nil, fmt.Errorf("arena %q: width and height must be positive", a.Name)
	}
	if a.Grid != nil && (a.Grid.Rows <= 0 || a.Grid.Cols <= 0) {
		return nil, fmt.Errorf("arena %q: grid needs positive rows and cols", a.Name)
	}
	return &a, nil
}

// Build constructs the initial world from the definition. Brick ids are
// stable across runs: grid bricks are numbered row-major from 1, explicit
// bricks keep their declared ids.
func (a *Arena) Build() *world.World {
	w := world.NewWorld(a.Seed)

	if a.Grid != nil {
		g := a.Grid
		n := 0
		for r := 0; r < g.Rows; r++ {
			color := ""
			if len(g.Colors) > 0 {
				color = g.Colors[r%len(g.Colors)]
			}
			for c := 0; c < g.Cols; c++ {
				n++
				hp := g.HP
				if hp <= 0 {
					hp = 1
				}
				e := &world.Entity{
					ID:    world.ID(fmt.Sprintf("brick_%d", n)),
					Kind:  "brick",
					Alive: true,
					Pos: world.Vec2{
						X: g.OriginX + (float64(c)+0.5)*g.CellW,
						Y: g.OriginY + (float64(r)+0.5)*g.CellH,
					},
					Size:  world.Vec2{X: g.CellW, Y: g.CellH},
					Color: color,
					HP:    hp,
					Score: g.Score,
				}
				a.bindBehaviors(e)
				w.Add(e)
			}
		}
	}

	for _, def := range a.Bricks {
		hp := def.HP
		if hp <= 0 {
			hp = 1
		}
		e := &world.Entity{
			ID:     world.ID(def.ID),
			Kind:   "brick",
			Alive:  true,
			Pos:    world.Vec2{X: def.X, Y: def.Y},
			Size:   world.Vec2{X: def.W, Y: def.H},
			Color:  def.Color,
			Sprite: def.Sprite,
			HP:     hp,
			Score:  def.Score,
		}
		a.bindBehaviors(e)
		w.Add(e)
	}

	for i, def := range a.Balls {
		size := def.Size
		if size <= 0 {
			size = 6
		}
		e := &world.Entity{
			ID:    world.ID(fmt.Sprintf("ball_%d", i+1)),
			Kind:  "ball",
			Alive: true,
			Pos:   world.Vec2{X: def.X, Y: def.Y},
			Vel:   world.Vec2{X: def.VX, Y: def.VY},
			Size:  world.Vec2{X: size, Y: size},
			HP:    1,
		}
		a.bindBehaviors(e)
		w.Add(e)
	}

	return w
}

func (a *Arena) bindBehaviors(e *world.Entity) {
	for _, b := range a.Behaviors {
		if b.Kind != e.Kind {
			continue
		}
		cfg := make(map[string]float64, len(b.Config))
		for k, v := range b.Config {
			cfg[k] = v
		}
		e.Behaviors = append(e.Behaviors, world.BehaviorRef{Name: b.Name, Config: cfg})
	}
}
