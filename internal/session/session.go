// Package session keeps the local player map in sync with the shared players
// table. All state lives in one loop goroutine; remote calls run outside it
// and report back through the inbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/internal/metrics"
	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

var ErrInvalidTransition = errors.New("invalid session transition")
var ErrNotReady = errors.New("session not ready")
var ErrClosed = errors.New("session closed")
// ErrFeedClosed is reported in View.Err when the change feed ends while the
// session is ready, e.g. after being dropped as a slow subscriber. The
// session stays ready but sees no more remote changes until it is
// disconnected and initialized again.
var ErrFeedClosed = errors.New("change feed closed")

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseDisconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// View is a read-only projection of the session state, rebuilt by the loop
// after every change.
type View struct {
	Phase   Phase
	Self    *types.Player
	Players []types.Player
	// Err is the last bootstrap, teardown or feed error.
	Err error
}

func (v View) Ready() bool { return v.Phase == PhaseReady }
func (v View) Online() int { return len(v.Players) }

type Option func(*Session)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }
func WithIDs(gen func() string) Option      { return func(s *Session) { s.newID = gen } }
func WithColors(gen func() string) Option   { return func(s *Session) { s.newColor = gen } }
func WithSpawn(pos types.Position) Option   { return func(s *Session) { s.spawn = pos } }

type Session struct {
	backend  store.Backend
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	newID    func() string
	newColor func() string
	spawn    types.Position

	inbox    chan Msg
	persists *pending
	view     atomic.Pointer[View]
	ctx      context.Context
	cancel   context.CancelFunc

	// owned by loop
	phase     Phase
	players   engine.Players
	self      *types.Player
	persisted types.Position // last position the backend accepted
	sub       store.Subscription
	epoch     uint64
	lastErr   error
}

func New(parent context.Context, backend store.Backend, logger *zap.SugaredLogger, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		backend:  backend,
		logger:   logger.Named("session"),
		newID:    uuid.NewString,
		newColor: engine.RandomColor,
		spawn:    engine.Spawn,
		inbox:    make(chan Msg, 256),
		persists: newPending(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publish()

	go s.loop()
	go s.persistLoop()
	return s
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case beginInit:
				if s.phase != PhaseUninitialized {
					msg.Reply <- fmt.Errorf("%w: initialize while %s", ErrInvalidTransition, s.phase)
					break
				}
				s.enter(PhaseInitializing)
				s.lastErr = nil
				msg.Reply <- nil

			case initFailed:
				s.players = nil
				s.lastErr = msg.Err
				s.enter(PhaseUninitialized)

			case initDone:
				s.epoch++
				s.players = engine.NewPlayers(msg.Rows)
				self := msg.Self
				s.self = &self
				s.players[self.ID] = self
				s.persisted = self.Position()
				s.sub = msg.Sub
				s.enter(PhaseReady)
				msg.Reply <- s.epoch

			case remoteChange:
				s.reconcile(msg)

			case feedClosed:
				if msg.Epoch == s.epoch && s.phase == PhaseReady {
					s.logger.Warnw("change feed closed while in session", "player", s.self.ID)
					s.lastErr = ErrFeedClosed
				}

			case localMove:
				s.move(msg)

			case persistDone:
				if s.phase == PhaseReady && msg.Job.Epoch == s.epoch {
					s.persisted = msg.Job.Sent
				}

			case persistFailed:
				s.rollback(msg)

			case beginDisconnect:
				if s.phase != PhaseReady {
					msg.Reply <- teardown{Err: fmt.Errorf("%w: disconnect while %s", ErrInvalidTransition, s.phase)}
					break
				}
				msg.Reply <- teardown{Self: *s.self, Sub: s.sub}
				s.sub = nil
				s.enter(PhaseDisconnecting)

			case disconnected:
				s.players = nil
				s.self = nil
				s.sub = nil
				s.lastErr = msg.Err
				s.enter(PhaseUninitialized)
			}
			s.publish()
			if a, ok := m.(acked); ok {
				a.ack()
			}
		}
	}
}

func (s *Session) enter(p Phase) {
	s.phase = p
	s.metrics.Transition(p.String())
}

func (s *Session) reconcile(msg remoteChange) {
	kind := string(msg.Event.Type)
	if s.phase != PhaseReady || (msg.Epoch != 0 && msg.Epoch != s.epoch) {
		s.metrics.Event(kind, "stale")
		return
	}
	outcome, err := engine.Apply(s.players, s.self.ID, msg.Event)
	if err != nil {
		s.logger.Warnw("dropping change event", "type", kind, "error", err)
		s.metrics.Event(kind, "rejected")
		return
	}
	s.metrics.Event(kind, string(outcome))
}

func (s *Session) move(msg localMove) {
	if s.phase != PhaseReady {
		msg.Reply <- moveReply{Err: ErrNotReady}
		return
	}
	prev := s.self.Position()
	if prev == msg.Pos {
		msg.Reply <- moveReply{Noop: true}
		return
	}
	next := s.self.WithPosition(msg.Pos)
	s.self = &next
	s.players[next.ID] = next
	msg.Reply <- moveReply{Job: persistJob{Epoch: s.epoch, ID: next.ID, Sent: msg.Pos}}
}

// rollback reverts a failed move to the last persisted position unless a
// newer move already replaced it.
func (s *Session) rollback(msg persistFailed) {
	job := msg.Job
	if s.phase != PhaseReady || job.Epoch != s.epoch || s.self.ID != job.ID {
		return
	}
	if s.self.Position() != job.Sent {
		s.logger.Debugw("skipping rollback, position moved on", "player", job.ID)
		return
	}
	prev := s.self.WithPosition(s.persisted)
	s.self = &prev
	s.players[prev.ID] = prev
	s.metrics.Update("rolled_back")
}

func (s *Session) publish() {
	v := &View{Phase: s.phase, Err: s.lastErr}
	if s.self != nil {
		self := *s.self
		v.Self = &self
	}
	if s.players != nil {
		v.Players = s.players.Sorted()
	}
	s.metrics.Online(len(v.Players))
	s.view.Store(v)
}

func (s *Session) persistLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.persists.ready:
			job, ok := s.persists.take()
			if !ok {
				continue
			}
			err := s.backend.UpdatePosition(s.ctx, job.ID, job.Sent)
			if err == nil {
				s.metrics.Update("persisted")
				s.send(persistDone{Job: job})
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warnw("position update failed, rolling back",
				"player", job.ID, "x", job.Sent.X, "y", job.Sent.Y, "error", err)
			s.send(persistFailed{Job: job, Err: err})
		}
	}
}

func (s *Session) send(m Msg) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) pump(sub store.Subscription, epoch uint64) {
	for ev := range sub.Events() {
		if !s.send(remoteChange{Event: ev, Epoch: epoch}) {
			return
		}
	}
	s.send(feedClosed{Epoch: epoch})
}
