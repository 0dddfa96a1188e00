// Package postgres talks to the hosted players table: row CRUD goes through
// gorm, the change feed is a LISTEN on the channel fed by the players trigger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

const uniqueViolation = "23505"

type playerRow struct {
	ID    string `gorm:"primaryKey;type:uuid"`
	X     int    `gorm:"not null"`
	Y     int    `gorm:"not null"`
	Color string `gorm:"not null"`
	Name  string `gorm:"not null"`
}

func (playerRow) TableName() string { return store.TableName }

func (r playerRow) player() types.Player {
	return types.Player{ID: r.ID, X: r.X, Y: r.Y, Color: r.Color, Name: r.Name}
}

func rowOf(p types.Player) playerRow {
	return playerRow{ID: p.ID, X: p.X, Y: p.Y, Color: p.Color, Name: p.Name}
}

type Store struct {
	db     *gorm.DB
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

var _ store.Backend = (*Store)(nil)

func Open(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(gormWriter{logger.Named("gorm")}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		closeGorm(db)
		return nil, fmt.Errorf("open listen pool: %w", err)
	}

	return &Store{db: db, pool: pool, logger: logger}, nil
}

func (s *Store) FetchPlayers(ctx context.Context) ([]types.Player, error) {
	var rows []playerRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Player, len(rows))
	for i, r := range rows {
		out[i] = r.player()
	}
	return out, nil
}

func (s *Store) InsertPlayer(ctx context.Context, p types.Player) error {
	row := rowOf(p)
	err := s.db.WithContext(ctx).Create(&row).Error
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrDuplicatePlayer
	}
	return err
}

func (s *Store) UpdatePosition(ctx context.Context, id string, pos types.Position) error {
	res := s.db.WithContext(ctx).
		Model(&playerRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"x": pos.X, "y": pos.Y})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrPlayerNotFound
	}
	return nil
}

func (s *Store) DeletePlayer(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&playerRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrPlayerNotFound
	}
	return nil
}

func (s *Store) CountPlayers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&playerRow{}).Count(&n).Error
	return n, err
}

func (s *Store) Close() error {
	s.pool.Close()
	closeGorm(s.db)
	return nil
}

// gormWriter routes gorm's slow-query and error lines into zap.
type gormWriter struct{ log *zap.SugaredLogger }

func (w gormWriter) Printf(format string, args ...any) { w.log.Warnf(format, args...) }

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
