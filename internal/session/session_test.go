package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/internal/store/memory"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

const within = 2 * time.Second
const tick = 5 * time.Millisecond

var errBoom = errors.New("boom")

// flaky wraps a backend and fails the operations whose flag is set.
type flaky struct {
	store.Backend
	failFetch     bool
	failInsert    bool
	failUpdate    bool
	failDelete    bool
	failSubscribe bool

	// failUpdateAt fails only the writes for which it returns true.
	failUpdateAt func(types.Position) bool
	// updateDelay slows every position write down.
	updateDelay time.Duration
	// onSubscribe runs before the subscription is opened.
	onSubscribe func()

	mu      sync.Mutex
	updates int
}

func (f *flaky) FetchPlayers(ctx context.Context) ([]types.Player, error) {
	if f.failFetch {
		return nil, errBoom
	}
	return f.Backend.FetchPlayers(ctx)
}

func (f *flaky) InsertPlayer(ctx context.Context, p types.Player) error {
	if f.failInsert {
		return errBoom
	}
	return f.Backend.InsertPlayer(ctx, p)
}

func (f *flaky) UpdatePosition(ctx context.Context, id string, pos types.Position) error {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
	if f.updateDelay > 0 {
		time.Sleep(f.updateDelay)
	}
	if f.failUpdate || (f.failUpdateAt != nil && f.failUpdateAt(pos)) {
		return errBoom
	}
	return f.Backend.UpdatePosition(ctx, id, pos)
}

func (f *flaky) DeletePlayer(ctx context.Context, id string) error {
	if f.failDelete {
		return errBoom
	}
	return f.Backend.DeletePlayer(ctx, id)
}

func (f *flaky) Subscribe(ctx context.Context) (store.Subscription, error) {
	if f.onSubscribe != nil {
		f.onSubscribe()
	}
	if f.failSubscribe {
		return nil, errBoom
	}
	return f.Backend.Subscribe(ctx)
}

func (f *flaky) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newSession(t *testing.T, backend store.Backend, prefix string) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, backend, zap.NewNop().Sugar(),
		WithIDs(sequentialIDs(prefix)),
		WithColors(func() string { return "hsl(200.0, 100%, 50%)" }),
	)
}

func newMemory(t *testing.T) *memory.Store {
	t.Helper()
	mem := memory.New(context.Background())
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

func selfPos(s *Session) types.Position {
	v := s.View()
	if v.Self == nil {
		return types.Position{X: -1, Y: -1}
	}
	return v.Self.Position()
}

func playerAt(s *Session, id string) (types.Player, bool) {
	for _, p := range s.View().Players {
		if p.ID == id {
			return p, true
		}
	}
	return types.Player{}, false
}

func TestSession_InitializeAlone(t *testing.T) {
	mem := newMemory(t)
	s := newSession(t, mem, "ann")

	assert.Equal(t, PhaseUninitialized, s.View().Phase)
	require.NoError(t, s.Initialize(context.Background(), "  Ann  "))

	v := s.View()
	require.True(t, v.Ready())
	require.NotNil(t, v.Self)
	assert.Equal(t, "Ann", v.Self.Name)
	assert.Equal(t, engine.Spawn, v.Self.Position())
	assert.Equal(t, "hsl(200.0, 100%, 50%)", v.Self.Color)
	assert.Equal(t, 1, v.Online())

	row, ok := mem.Player(v.Self.ID)
	require.True(t, ok)
	assert.Equal(t, *v.Self, row)
}

func TestSession_InvalidTransitions(t *testing.T) {
	s := newSession(t, newMemory(t), "ann")

	assert.ErrorIs(t, s.Disconnect(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, s.UpdatePosition(types.Position{X: 1, Y: 1}), ErrNotReady)

	require.NoError(t, s.Initialize(context.Background(), "Ann"))
	assert.ErrorIs(t, s.Initialize(context.Background(), "Ann"), ErrInvalidTransition)
	assert.True(t, s.View().Ready())
}

func TestSession_InitializeRejectsBadName(t *testing.T) {
	s := newSession(t, newMemory(t), "ann")

	assert.ErrorIs(t, s.Initialize(context.Background(), "   "), engine.ErrInvalidName)
	assert.ErrorIs(t, s.Initialize(context.Background(), "abcdefghijklmnopqrstu"), engine.ErrInvalidName)
	assert.Equal(t, PhaseUninitialized, s.View().Phase)
}

func TestSession_BootstrapFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*flaky)
		clear func(*flaky)
	}{
		{
			name:  "fetch",
			setup: func(f *flaky) { f.failFetch = true },
			clear: func(f *flaky) { f.failFetch = false },
		},
		{
			name:  "insert",
			setup: func(f *flaky) { f.failInsert = true },
			clear: func(f *flaky) { f.failInsert = false },
		},
		{
			name:  "subscribe",
			setup: func(f *flaky) { f.failSubscribe = true },
			clear: func(f *flaky) { f.failSubscribe = false },
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mem := newMemory(t)
			backend := &flaky{Backend: mem}
			test.setup(backend)
			s := newSession(t, backend, "ann")

			err := s.Initialize(context.Background(), "Ann")
			require.ErrorIs(t, err, errBoom)

			v := s.View()
			assert.Equal(t, PhaseUninitialized, v.Phase)
			assert.False(t, v.Ready())
			assert.Nil(t, v.Self)
			assert.Empty(t, v.Players)
			assert.ErrorIs(t, v.Err, errBoom)

			n, err := mem.CountPlayers(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n, "no row may remain after a failed initialize")

			test.clear(backend)
			require.NoError(t, s.Initialize(context.Background(), "Ann"))
			assert.True(t, s.View().Ready())
			assert.NoError(t, s.View().Err)
		})
	}
}

func TestSession_CloseDuringInitializeRemovesRow(t *testing.T) {
	mem := newMemory(t)
	backend := &flaky{Backend: mem}
	s := newSession(t, backend, "ann")
	backend.onSubscribe = func() { _ = s.Close(context.Background()) }

	err := s.Initialize(context.Background(), "Ann")
	require.ErrorIs(t, err, ErrClosed)

	n, err := mem.CountPlayers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSession_Reconcile(t *testing.T) {
	s := newSession(t, newMemory(t), "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))
	self := *s.View().Self

	bo := types.Player{ID: "bo", X: 10, Y: 20, Color: "#0f0", Name: "Bo"}

	s.Reconcile(types.ChangeEvent{Type: types.ChangeInsert, New: &bo})
	assert.Eventually(t, func() bool {
		_, ok := playerAt(s, "bo")
		return ok
	}, within, tick)

	moved := bo.WithPosition(types.Position{X: 15, Y: 20})
	moved.Name = "Renamed"
	s.Reconcile(types.ChangeEvent{Type: types.ChangeUpdate, New: &moved, Old: &bo})
	assert.Eventually(t, func() bool {
		p, _ := playerAt(s, "bo")
		return p.X == 15
	}, within, tick)
	p, _ := playerAt(s, "bo")
	assert.Equal(t, "Bo", p.Name, "updates only move known players")

	ghost := self.WithPosition(types.Position{X: 0, Y: 0})
	s.Reconcile(types.ChangeEvent{Type: types.ChangeUpdate, New: &ghost})

	s.Reconcile(types.ChangeEvent{Type: types.ChangeDelete, Old: &bo})
	assert.Eventually(t, func() bool {
		_, ok := playerAt(s, "bo")
		return !ok
	}, within, tick)

	// Events are handled in order, so the own-id update was seen before the delete.
	assert.Equal(t, self.Position(), selfPos(s))
	assert.Equal(t, 1, s.View().Online())
}

func TestSession_StaleEpochIgnored(t *testing.T) {
	s := newSession(t, newMemory(t), "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))

	old := types.Player{ID: "old", Name: "Old"}
	require.True(t, s.send(remoteChange{Event: types.ChangeEvent{Type: types.ChangeInsert, New: &old}, Epoch: 99}))
	fresh := types.Player{ID: "fresh", Name: "Fresh"}
	s.Reconcile(types.ChangeEvent{Type: types.ChangeInsert, New: &fresh})

	assert.Eventually(t, func() bool {
		_, ok := playerAt(s, "fresh")
		return ok
	}, within, tick)
	_, ok := playerAt(s, "old")
	assert.False(t, ok)
}

func TestSession_UpdatePositionPersists(t *testing.T) {
	mem := newMemory(t)
	s := newSession(t, mem, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))
	id := s.View().Self.ID

	next := types.Position{X: 405, Y: 300}
	require.NoError(t, s.UpdatePosition(next))
	assert.Equal(t, next, selfPos(s), "local state moves before the write lands")

	assert.Eventually(t, func() bool {
		row, ok := mem.Player(id)
		return ok && row.Position() == next
	}, within, tick)
}

func TestSession_RollbackOnFailedWrite(t *testing.T) {
	backend := &flaky{Backend: newMemory(t), failUpdate: true}
	s := newSession(t, backend, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))
	start := selfPos(s)

	require.NoError(t, s.UpdatePosition(types.Position{X: 405, Y: 300}))

	assert.Eventually(t, func() bool {
		return selfPos(s) == start
	}, within, tick)
	p, ok := playerAt(s, s.View().Self.ID)
	require.True(t, ok)
	assert.Equal(t, start, p.Position())
}

func TestSession_RollbackToLastPersisted(t *testing.T) {
	mem := newMemory(t)
	bad := types.Position{X: 410, Y: 300}
	backend := &flaky{Backend: mem, failUpdateAt: func(p types.Position) bool { return p == bad }}
	s := newSession(t, backend, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))
	id := s.View().Self.ID

	good := types.Position{X: 405, Y: 300}
	require.NoError(t, s.UpdatePosition(good))
	require.Eventually(t, func() bool {
		row, _ := mem.Player(id)
		return row.Position() == good
	}, within, tick)

	require.NoError(t, s.UpdatePosition(bad))
	assert.Eventually(t, func() bool { return selfPos(s) == good }, within, tick)
}

func TestSession_SlowBackendWritesLatest(t *testing.T) {
	const delay = 10 * time.Millisecond
	mem := newMemory(t)
	backend := &flaky{Backend: mem, updateDelay: delay}
	s := newSession(t, backend, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))
	id := s.View().Self.ID

	const moves = 200
	start := time.Now()
	var last types.Position
	for i := 1; i <= moves; i++ {
		last = types.Position{X: i % 700, Y: 1 + i%500}
		require.NoError(t, s.UpdatePosition(last))
	}
	// Moves never wait for the backend.
	assert.Less(t, time.Since(start), moves*delay/4)

	sent := time.Now()
	require.Eventually(t, func() bool {
		row, _ := mem.Player(id)
		return row.Position() == last
	}, within, time.Millisecond)
	assert.Less(t, time.Since(sent), 10*delay, "remote catches up within a couple of writes")
	assert.Less(t, backend.updateCount(), moves, "superseded moves are not written")
	assert.Equal(t, last, selfPos(s))
}

func TestSession_TwoClientsConverge(t *testing.T) {
	mem := newMemory(t)
	ann := newSession(t, mem, "ann")
	bo := newSession(t, mem, "bo")

	require.NoError(t, ann.Initialize(context.Background(), "Ann"))
	require.NoError(t, bo.Initialize(context.Background(), "Bo"))

	annID := ann.View().Self.ID
	boID := bo.View().Self.ID

	// Bo fetched Ann; Ann learns about Bo from the feed.
	assert.Equal(t, 2, bo.View().Online())
	assert.Eventually(t, func() bool { return ann.View().Online() == 2 }, within, tick)

	require.NoError(t, bo.UpdatePosition(types.Position{X: 400, Y: 295}))
	assert.Eventually(t, func() bool {
		p, ok := playerAt(ann, boID)
		return ok && p.Position() == types.Position{X: 400, Y: 295}
	}, within, tick)

	require.NoError(t, ann.UpdatePosition(types.Position{X: 405, Y: 300}))
	assert.Eventually(t, func() bool {
		p, ok := playerAt(bo, annID)
		return ok && p.Position() == types.Position{X: 405, Y: 300}
	}, within, tick)

	require.NoError(t, bo.Disconnect(context.Background()))
	assert.Eventually(t, func() bool {
		_, ok := playerAt(ann, boID)
		return !ok
	}, within, tick)
}

func TestSession_DisconnectThenRejoin(t *testing.T) {
	mem := newMemory(t)
	s := newSession(t, mem, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))
	firstID := s.View().Self.ID

	require.NoError(t, s.Disconnect(context.Background()))
	v := s.View()
	assert.Equal(t, PhaseUninitialized, v.Phase)
	assert.Nil(t, v.Self)
	assert.Empty(t, v.Players)
	assert.NoError(t, v.Err)
	_, ok := mem.Player(firstID)
	assert.False(t, ok)

	require.NoError(t, s.Initialize(context.Background(), "Bo"))
	v = s.View()
	require.True(t, v.Ready())
	assert.Equal(t, "Bo", v.Self.Name)
	assert.NotEqual(t, firstID, v.Self.ID)
	assert.Equal(t, 1, v.Online())
}

func TestSession_DisconnectFailureStillClears(t *testing.T) {
	backend := &flaky{Backend: newMemory(t), failDelete: true}
	s := newSession(t, backend, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))

	err := s.Disconnect(context.Background())
	require.ErrorIs(t, err, errBoom)

	v := s.View()
	assert.Equal(t, PhaseUninitialized, v.Phase)
	assert.Nil(t, v.Self)
	assert.Empty(t, v.Players)
	assert.ErrorIs(t, v.Err, errBoom)
}

func TestSession_ClosedSessionRejectsCalls(t *testing.T) {
	mem := newMemory(t)
	s := newSession(t, mem, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))

	require.NoError(t, s.Close(context.Background()))
	n, err := mem.CountPlayers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, s.Initialize(context.Background(), "Ann"), ErrClosed)
	assert.ErrorIs(t, s.UpdatePosition(types.Position{}), ErrClosed)
}

func TestSession_FeedClosedKeepsSessionReady(t *testing.T) {
	mem := newMemory(t)
	s := newSession(t, mem, "ann")
	require.NoError(t, s.Initialize(context.Background(), "Ann"))

	require.NoError(t, mem.Close())
	assert.Eventually(t, func() bool { return errors.Is(s.View().Err, ErrFeedClosed) }, within, tick)
	assert.True(t, s.View().Ready(), "rejoining is up to the player")
}
