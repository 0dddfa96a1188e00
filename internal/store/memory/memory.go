// Package memory is an in-process players table with a change feed. Several
// sessions sharing one Store behave like clients of one hosted table.
package memory

import (
	"context"
	"sync"

	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/internal/store/feed"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

const subscriberBuffer = 256

type Store struct {
	mu      sync.RWMutex
	players map[string]types.Player
	feed    *feed.Feed
	cancel  context.CancelFunc
}

var _ store.Backend = (*Store)(nil)

func New(parent context.Context) *Store {
	ctx, cancel := context.WithCancel(parent)
	return &Store{
		players: make(map[string]types.Player),
		feed:    feed.New(ctx),
		cancel:  cancel,
	}
}

func (s *Store) FetchPlayers(ctx context.Context) ([]types.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) InsertPlayer(ctx context.Context, p types.Player) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[p.ID]; ok {
		return store.ErrDuplicatePlayer
	}
	s.players[p.ID] = p
	// Published under the lock so subscribers see changes in commit order.
	s.feed.Publish(types.ChangeEvent{Type: types.ChangeInsert, New: &p})
	return nil
}

func (s *Store) UpdatePosition(ctx context.Context, id string, pos types.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.players[id]
	if !ok {
		return store.ErrPlayerNotFound
	}
	next := old.WithPosition(pos)
	s.players[id] = next
	s.feed.Publish(types.ChangeEvent{Type: types.ChangeUpdate, New: &next, Old: &old})
	return nil
}

func (s *Store) DeletePlayer(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.players[id]
	if !ok {
		return store.ErrPlayerNotFound
	}
	delete(s.players, id)
	s.feed.Publish(types.ChangeEvent{Type: types.ChangeDelete, Old: &old})
	return nil
}

func (s *Store) CountPlayers(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.players)), nil
}

func (s *Store) Subscribe(ctx context.Context) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := s.feed.Subscribe(subscriberBuffer)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Player returns the stored row for id.
func (s *Store) Player(id string) (types.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	return p, ok
}

func (s *Store) Close() error {
	s.feed.Close()
	s.cancel()
	return nil
}
