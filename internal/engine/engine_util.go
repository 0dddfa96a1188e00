package engine

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/DoyleJ11/arena-sync/pkg/types"
)

func NewPlayers(rows []types.Player) Players {
	p := make(Players, len(rows))
	for _, row := range rows {
		p[row.ID] = row
	}
	return p
}

// Sorted returns the players ordered by name, then id, so views are stable.
func (p Players) Sorted() []types.Player {
	out := make([]types.Player, 0, len(p))
	for _, pl := range p {
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var RandomColor = func() string {
	return fmt.Sprintf("hsl(%.1f, 100%%, 50%%)", rand.Float64()*360)
}
