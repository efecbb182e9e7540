package source

// Outbound message types sent to viewers. One state frame per tick plus the
// correction hints and sounds the frame produced.

type StateMsg struct {
	Type           string      `json:"type"` // "state"
	Frame          uint64      `json:"frame"`
	Now            float64     `json:"now"`
	Score          int         `json:"score"`
	Phase          string      `json:"phase"`
	Entities       []EntityDTO `json:"entities"`
	Hints          []HintDTO   `json:"hints,omitempty"`
	Sounds         []SoundDTO  `json:"sounds,omitempty"`
	RolledBack     bool        `json:"rolled_back,omitempty"`
	ReplayedFrames int         `json:"replayed_frames,omitempty"`
}

type EntityDTO struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"`
	X      float64 `json:"x"` // visual position, post-reconciliation
	Y      float64 `json:"y"`
	VX     float64 `json:"vx,omitempty"`
	VY     float64 `json:"vy,omitempty"`
	W      float64 `json:"w"`
	H      float64 `json:"h"`
	Color  string  `json:"color,omitempty"`
	Sprite string  `json:"sprite,omitempty"`
	HP     int     `json:"hp"`
}

type HintDTO struct {
	Entity   string  `json:"entity"`
	Effect   string  `json:"effect"` // "blend", "appear", "terminal"
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Duration float64 `json:"duration"`
}

type SoundDTO struct {
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Replayed bool    `json:"replayed,omitempty"`
}
