package engine

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/DoyleJ11/arena-sync/pkg/types"
)

var ErrMalformedEvent = errors.New("malformed change event")
var ErrUnsupportedChange = errors.New("unsupported change type")
var ErrInvalidName = errors.New("invalid player name")

const (
	FieldWidth  = 800
	FieldHeight = 600
	SpriteSize  = 4
	Speed       = 5
	TicksPerSec = 60

	MaxNameLen = 20
)

// Spawn is where every new player starts.
var Spawn = types.Position{X: 400, Y: 300}

// Players is the local view of the players table, keyed by id.
type Players map[string]types.Player

type Outcome string

const (
	OutcomeUpserted Outcome = "upserted"
	OutcomeMoved    Outcome = "moved"
	OutcomeRemoved  Outcome = "removed"
	OutcomeIgnored  Outcome = "ignored"
)

/*
	INSERT/UPDATE, unknown id -> store the full row
	INSERT/UPDATE, known id   -> copy x/y only, keep name and color
	DELETE                    -> drop the id
	anything about selfID     -> ignored, the local record wins
*/

// Apply folds one change event into players. The map is modified in place;
// on error it is left untouched.
func Apply(players Players, selfID string, ev types.ChangeEvent) (Outcome, error) {
	switch ev.Type {
	case types.ChangeInsert, types.ChangeUpdate:
		if ev.New == nil || ev.New.ID == "" {
			return OutcomeIgnored, ErrMalformedEvent
		}
		if ev.New.ID == selfID {
			return OutcomeIgnored, nil
		}
		if cur, ok := players[ev.New.ID]; ok {
			players[ev.New.ID] = cur.WithPosition(ev.New.Position())
			return OutcomeMoved, nil
		}
		players[ev.New.ID] = *ev.New
		return OutcomeUpserted, nil

	case types.ChangeDelete:
		if ev.Old == nil || ev.Old.ID == "" {
			return OutcomeIgnored, ErrMalformedEvent
		}
		if ev.Old.ID == selfID {
			return OutcomeIgnored, nil
		}
		if _, ok := players[ev.Old.ID]; !ok {
			return OutcomeIgnored, nil
		}
		delete(players, ev.Old.ID)
		return OutcomeRemoved, nil

	default:
		return OutcomeIgnored, ErrUnsupportedChange
	}
}

// Step advances pos by one tick of held keys. Opposite keys cancel.
func Step(pos types.Position, keys Keys, b Bounds, speed int) types.Position {
	var dx, dy int
	for key, held := range keys {
		if !held {
			continue
		}
		d, ok := KeyDirections[key]
		if !ok {
			continue
		}
		dx += d.DX
		dy += d.DY
	}
	next := types.Position{X: pos.X + sign(dx)*speed, Y: pos.Y + sign(dy)*speed}
	return Clamp(next, b)
}

func Clamp(pos types.Position, b Bounds) types.Position {
	pos.X = min(max(pos.X, 0), b.MaxX)
	pos.Y = min(max(pos.Y, 0), b.MaxY)
	return pos
}

// NormalizeName trims name and checks it fits the name form.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
