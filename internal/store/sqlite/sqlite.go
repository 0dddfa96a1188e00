// Package sqlite keeps the players table in a local SQLite file. Changes are
// fanned out in-process, so every session sharing one Store sees them.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/internal/store/feed"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

const createPlayersTableSQL = `
CREATE TABLE IF NOT EXISTS players (
    id    TEXT PRIMARY KEY,
    x     INTEGER NOT NULL,
    y     INTEGER NOT NULL,
    color TEXT NOT NULL,
    name  TEXT NOT NULL
);
`

const subscriberBuffer = 256

type Store struct {
	db     *sql.DB
	feed   *feed.Feed
	cancel context.CancelFunc

	// writes and their publication happen together so the feed order
	// matches commit order
	mu sync.Mutex
}

var _ store.Backend = (*Store)(nil)

func Open(parent context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes anyway and :memory: needs a single conn.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(parent, createPlayersTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create players table: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	return &Store{db: db, feed: feed.New(ctx), cancel: cancel}, nil
}

func (s *Store) FetchPlayers(ctx context.Context) ([]types.Player, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, x, y, color, name FROM players")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Player
	for rows.Next() {
		var p types.Player
		if err := rows.Scan(&p.ID, &p.X, &p.Y, &p.Color, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertPlayer(ctx context.Context, p types.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "INSERT INTO players (id, x, y, color, name) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.X, p.Y, p.Color, p.Name)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return store.ErrDuplicatePlayer
		}
		return err
	}
	s.feed.Publish(types.ChangeEvent{Type: types.ChangeInsert, New: &p})
	return nil
}

func (s *Store) UpdatePosition(ctx context.Context, id string, pos types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	old, err := scanPlayer(tx.QueryRowContext(ctx, "SELECT id, x, y, color, name FROM players WHERE id = ?", id))
	if err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE players SET x = ?, y = ? WHERE id = ?", pos.X, pos.Y, id); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	next := old.WithPosition(pos)
	s.feed.Publish(types.ChangeEvent{Type: types.ChangeUpdate, New: &next, Old: &old})
	return nil
}

func (s *Store) DeletePlayer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	old, err := scanPlayer(tx.QueryRowContext(ctx, "SELECT id, x, y, color, name FROM players WHERE id = ?", id))
	if err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM players WHERE id = ?", id); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.feed.Publish(types.ChangeEvent{Type: types.ChangeDelete, Old: &old})
	return nil
}

func (s *Store) CountPlayers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM players").Scan(&n)
	return n, err
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

func (s *Store) Close() error {
	s.feed.Close()
	s.cancel()
	return s.db.Close()
}

func scanPlayer(row *sql.Row) (types.Player, error) {
	var p types.Player
	err := row.Scan(&p.ID, &p.X, &p.Y, &p.Color, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return p, store.ErrPlayerNotFound
	}
	return p, err
}
