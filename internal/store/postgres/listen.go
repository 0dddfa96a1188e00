package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

// NotifyChannel is the channel the players trigger notifies on.
const NotifyChannel = "players_changes"

const subscriberBuffer = 256

// Subscribe holds one pooled connection in LISTEN mode for the lifetime of
// the subscription.
func (s *Store) Subscribe(ctx context.Context) (store.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		out:    make(chan types.ChangeEvent, subscriberBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: s.logger,
	}
	go sub.listen(listenCtx, conn)
	return sub, nil
}

type subscription struct {
	out    chan types.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.SugaredLogger

	once sync.Once
	err  error
}

func (s *subscription) Events() <-chan types.ChangeEvent { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return s.err
}

func (s *subscription) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer close(s.done)
	defer close(s.out)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Errorw("change feed stopped", "error", err)
			}
			break
		}
		var ev types.ChangeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			s.logger.Warnw("dropping malformed notification", "error", err, "payload", n.Payload)
			continue
		}
		select {
		case s.out <- ev:
		case <-ctx.Done():
		}
	}

	s.err = release(conn)
}

// release returns the LISTEN connection to the pool clean, or destroys it if
// a cancelled wait left it unusable.
func release(conn *pgxpool.Conn) error {
	defer conn.Release()
	if conn.Conn().IsClosed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = conn.Conn().Close(ctx)
		return fmt.Errorf("unlisten: %w", err)
	}
	return nil
}
