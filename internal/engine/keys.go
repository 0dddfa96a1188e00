package engine

import "strings"

type Direction struct {
	DX int
	DY int
}

// Keys is the held-key set, keyed by lower-cased KeyboardEvent.key.
type Keys map[string]bool

var KeyDirections = map[string]Direction{
	"w": {DY: -1},
	"s": {DY: 1},
	"a": {DX: -1},
	"d": {DX: 1},

	"arrowup":    {DY: -1},
	"arrowdown":  {DY: 1},
	"arrowleft":  {DX: -1},
	"arrowright": {DX: 1},
}

// Bounds is the inclusive range a sprite's top-left corner may occupy.
type Bounds struct {
	MaxX int
	MaxY int
}

func FieldBounds() Bounds {
	return Bounds{MaxX: FieldWidth - SpriteSize, MaxY: FieldHeight - SpriteSize}
}

// NormalizeKey maps a raw key name onto the form used by KeyDirections.
func NormalizeKey(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

func IsMovementKey(key string) bool {
	_, ok := KeyDirections[NormalizeKey(key)]
	return ok
}
