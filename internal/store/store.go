// Package store defines the CRUD + subscribe contract of the shared players
// table and the errors every adapter reports.
package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/arena-sync/pkg/types"
)

var ErrPlayerNotFound = errors.New("player not found")
var ErrDuplicatePlayer = errors.New("player already exists")
var ErrClosed = errors.New("store closed")

const TableName = "players"

// Backend is the remote players table.
type Backend interface {
	FetchPlayers(ctx context.Context) ([]types.Player, error)
	InsertPlayer(ctx context.Context, p types.Player) error
	// UpdatePosition patches x/y of one row.
	UpdatePosition(ctx context.Context, id string, pos types.Position) error
	DeletePlayer(ctx context.Context, id string) error
	CountPlayers(ctx context.Context) (int64, error)

	// Subscribe opens a change feed for every row change made after it
	// returns.
	Subscribe(ctx context.Context) (Subscription, error)

	Close() error
}

type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan types.ChangeEvent
	Close() error
}
