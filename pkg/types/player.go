package types

// Player is one row of the shared players table.
type Player struct {
	ID    string `json:"id"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
	Name  string `json:"name"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Player) Position() Position { return Position{X: p.X, Y: p.Y} }

// WithPosition returns a copy of p moved to pos.
func (p Player) WithPosition(pos Position) Player {
	p.X, p.Y = pos.X, pos.Y
	return p
}
