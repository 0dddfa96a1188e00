// Package feed fans change events out to in-process subscribers. It backs
// the change feed of the adapters that have no server-side notifications.
package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

type Msg interface{ isFeedMsg() }

type Join struct {
	ClientID string
	Outbox   chan types.ChangeEvent // where this subscriber wants to receive events
}

func (Join) isFeedMsg() {}

type Leave struct {
	ClientID string
	Done     chan struct{} // closed once the outbox is closed; may be nil
}

func (Leave) isFeedMsg() {}

type Publish struct {
	Event types.ChangeEvent
}

func (Publish) isFeedMsg() {}

type Shutdown struct{}

func (Shutdown) isFeedMsg() {}

type GetStats struct {
	Reply chan Stats
}

func (GetStats) isFeedMsg() {}

type Stats struct {
	Published   int
	Subscribers int
	Dropped     int
}

type Feed struct {
	inbox   chan Msg
	clients map[string]chan types.ChangeEvent
	stats   Stats
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	nextID int
}

func New(parent context.Context) *Feed {
	ctx, cancel := context.WithCancel(parent)

	f := &Feed{
		inbox:   make(chan Msg, 64),
		clients: make(map[string]chan types.ChangeEvent),
		ctx:     ctx,
		cancel:  cancel,
	}

	go f.loop()
	return f
}

func (f *Feed) loop() {
	for {
		select {
		case <-f.ctx.Done():
			f.shutdown()
			return

		case m := <-f.inbox:
			switch msg := m.(type) {
			case Join:
				f.clients[msg.ClientID] = msg.Outbox
				f.stats.Subscribers = len(f.clients)

			case Leave:
				if ch, ok := f.clients[msg.ClientID]; ok {
					close(ch)
					delete(f.clients, msg.ClientID)
				}
				f.stats.Subscribers = len(f.clients)
				if msg.Done != nil {
					close(msg.Done)
				}

			case Publish:
				f.stats.Published++
				f.broadcast(msg.Event)

			case GetStats:
				msg.Reply <- f.stats

			case Shutdown:
				f.shutdown()
				return
			}
		}
	}
}

func (f *Feed) shutdown() {
	f.cancel()
	for id, ch := range f.clients {
		close(ch) // no more events
		delete(f.clients, id)
	}
	f.stats.Subscribers = 0
}

func (f *Feed) broadcast(ev types.ChangeEvent) {
	for id, ch := range f.clients {
		select {
		case ch <- ev:
		default:
			// Subscriber is slow/full - drop it.
			close(ch)
			delete(f.clients, id)
			f.stats.Dropped++
		}
	}
	f.stats.Subscribers = len(f.clients)
}

// Send delivers m unless the feed has shut down.
func (f *Feed) Send(m Msg) bool {
	if f.ctx.Err() != nil {
		return false
	}
	select {
	case f.inbox <- m:
		return true
	case <-f.ctx.Done():
		return false
	}
}

func (f *Feed) Publish(ev types.ChangeEvent) { f.Send(Publish{Event: ev}) }

func (f *Feed) Stats() Stats {
	reply := make(chan Stats, 1)
	if !f.Send(GetStats{Reply: reply}) {
		return Stats{}
	}
	select {
	case s := <-reply:
		return s
	case <-f.ctx.Done():
		return Stats{}
	}
}

func (f *Feed) Close() { f.Send(Shutdown{}) }

// Subscribe registers a new subscriber with an outbox of the given size.
func (f *Feed) Subscribe(buffer int) (*Subscription, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.mu.Unlock()

	out := make(chan types.ChangeEvent, buffer)
	if !f.Send(Join{ClientID: id, Outbox: out}) {
		return nil, store.ErrClosed
	}
	return &Subscription{feed: f, id: id, out: out}, nil
}

type Subscription struct {
	feed *Feed
	id   string
	out  chan types.ChangeEvent
	once sync.Once
}

func (s *Subscription) Events() <-chan types.ChangeEvent { return s.out }

func (s *Subscription) Close() error {
	s.once.Do(func() {
		done := make(chan struct{})
		if !s.feed.Send(Leave{ClientID: s.id, Done: done}) {
			return
		}
		select {
		case <-done:
		case <-s.feed.ctx.Done():
		}
	})
	return nil
}
