package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextEvent(t *testing.T, sub store.Subscription) types.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for change event")
		return types.ChangeEvent{}
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	ann := types.Player{ID: "2c7b6a1e-ann", X: 400, Y: 300, Color: "hsl(120.0, 100%, 50%)", Name: "Ann"}
	require.NoError(t, s.InsertPlayer(ctx, ann))
	assert.Equal(t, types.ChangeInsert, nextEvent(t, sub).Type)

	require.NoError(t, s.UpdatePosition(ctx, ann.ID, types.Position{X: 10, Y: 20}))
	ev := nextEvent(t, sub)
	assert.Equal(t, types.ChangeUpdate, ev.Type)
	assert.Equal(t, types.Player{ID: ann.ID, X: 10, Y: 20, Color: ann.Color, Name: "Ann"}, *ev.New)
	assert.Equal(t, ann, *ev.Old)

	rows, err := s.FetchPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].X)

	require.NoError(t, s.DeletePlayer(ctx, ann.ID))
	ev = nextEvent(t, sub)
	assert.Equal(t, types.ChangeDelete, ev.Type)
	assert.Equal(t, ann.ID, ev.Old.ID)

	n, err := s.CountPlayers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	p := types.Player{ID: "bo", Color: "#fff", Name: "Bo"}
	require.NoError(t, s.InsertPlayer(ctx, p))
	assert.ErrorIs(t, s.InsertPlayer(ctx, p), store.ErrDuplicatePlayer)
	assert.ErrorIs(t, s.UpdatePosition(ctx, "ghost", types.Position{X: 1}), store.ErrPlayerNotFound)
	assert.ErrorIs(t, s.DeletePlayer(ctx, "ghost"), store.ErrPlayerNotFound)
}
