package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

// Initialize starts a session for name: fetch every row, insert our own,
// then subscribe to the change feed. It fails with ErrInvalidTransition
// unless the session is uninitialized.
func (s *Session) Initialize(ctx context.Context, name string) error {
	name, err := engine.NormalizeName(name)
	if err != nil {
		return err
	}

	reply := make(chan error, 1)
	if !s.send(beginInit{Reply: reply}) {
		return ErrClosed
	}
	if err := s.await(reply); err != nil {
		return err
	}

	self := types.Player{
		ID:    s.newID(),
		X:     s.spawn.X,
		Y:     s.spawn.Y,
		Color: s.newColor(),
		Name:  name,
	}
	log := s.logger.With("player", self.ID, "name", name)

	rows, err := s.backend.FetchPlayers(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("fetch players: %w", err))
	}
	if err := s.backend.InsertPlayer(ctx, self); err != nil {
		return s.fail(fmt.Errorf("insert player: %w", err))
	}
	// Best effort: the row must not outlive a session that never got ready.
	removeRow := func(reason string) {
		if derr := s.backend.DeletePlayer(context.WithoutCancel(ctx), self.ID); derr != nil {
			log.Warnw("could not remove row", "reason", reason, "error", derr)
		}
	}

	sub, err := s.backend.Subscribe(ctx)
	if err != nil {
		removeRow("subscribe failed")
		return s.fail(fmt.Errorf("subscribe: %w", err))
	}

	done := make(chan uint64, 1)
	if !s.send(initDone{Rows: rows, Self: self, Sub: sub, Reply: done}) {
		_ = sub.Close()
		removeRow("session closed")
		return ErrClosed
	}
	epoch, err := awaitValue(s, done)
	if err != nil {
		_ = sub.Close()
		removeRow("session closed")
		return err
	}
	go s.pump(sub, epoch)

	log.Infow("session ready", "players", len(rows)+1)
	return nil
}

func (s *Session) fail(err error) error {
	s.logger.Errorw("session setup failed", "error", err)
	done := make(chan struct{})
	if s.send(initFailed{Err: err, Done: done}) {
		_, _ = awaitValue(s, done)
	}
	return err
}

// Reconcile feeds one change event into the current session. Events about
// the local player are ignored.
func (s *Session) Reconcile(ev types.ChangeEvent) {
	s.send(remoteChange{Event: ev})
}

// UpdatePosition applies pos to the local record at once and persists it in
// the background. Only the newest pending position is written; a failed
// write reverts the local record to the last persisted position.
func (s *Session) UpdatePosition(pos types.Position) error {
	reply := make(chan moveReply, 1)
	if !s.send(localMove{Pos: pos, Reply: reply}) {
		return ErrClosed
	}
	r, err := awaitValue(s, reply)
	if err != nil {
		return err
	}
	if r.Err != nil || r.Noop {
		return r.Err
	}
	s.persists.put(r.Job)
	return nil
}

// Disconnect closes the change feed, deletes the local row and resets the
// session. Local state is cleared even when teardown fails.
func (s *Session) Disconnect(ctx context.Context) error {
	reply := make(chan teardown, 1)
	if !s.send(beginDisconnect{Reply: reply}) {
		return ErrClosed
	}
	t, err := awaitValue(s, reply)
	if err != nil {
		return err
	}
	if t.Err != nil {
		return t.Err
	}

	var errs []error
	if t.Sub != nil {
		if err := t.Sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	if err := s.backend.DeletePlayer(ctx, t.Self.ID); err != nil {
		errs = append(errs, fmt.Errorf("delete player: %w", err))
	}
	err = errors.Join(errs...)
	if err != nil {
		s.logger.Errorw("disconnect failed", "player", t.Self.ID, "error", err)
	} else {
		s.logger.Infow("disconnected", "player", t.Self.ID)
	}

	done := make(chan struct{})
	if s.send(disconnected{Err: err, Done: done}) {
		_, _ = awaitValue(s, done)
	}
	return err
}

func (s *Session) View() View { return *s.view.Load() }

// Close disconnects a ready session and stops the loop.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if s.View().Ready() {
		err = s.Disconnect(ctx)
	}
	s.cancel()
	return err
}

func (s *Session) await(reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func awaitValue[T any](s *Session, reply <-chan T) (T, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-s.ctx.Done():
		var zero T
		return zero, ErrClosed
	}
}
