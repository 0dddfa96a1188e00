package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/arena-sync/internal/config"
	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/internal/httpapi"
	"github.com/DoyleJ11/arena-sync/internal/logging"
	"github.com/DoyleJ11/arena-sync/internal/metrics"
	"github.com/DoyleJ11/arena-sync/internal/movement"
	"github.com/DoyleJ11/arena-sync/internal/render"
	"github.com/DoyleJ11/arena-sync/internal/session"
	"github.com/DoyleJ11/arena-sync/internal/shell"
	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/internal/store/memory"
	"github.com/DoyleJ11/arena-sync/internal/store/postgres"
	"github.com/DoyleJ11/arena-sync/internal/store/sqlite"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "arena-sync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], ".env", ".env.local")
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The backend and session outlive ctx so the player row can be removed
	// on the way out.
	base := context.Background()
	backend, err := openBackend(ctx, base, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	connectionTest(ctx, backend, logger.With("backend", cfg.Backend))

	m := metrics.New()
	sess := session.New(base, backend, logger, session.WithMetrics(m))
	in := movement.NewIntegrator(engine.Spawn)
	r, err := render.New(m)
	if err != nil {
		return err
	}
	sh := shell.New(sess, in, r, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(sh, m, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return in.Run(gctx) })
	g.Go(func() error { return sh.Run(gctx, cfg.FrameInterval()) })
	g.Go(func() error {
		logger.Infow("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(base, shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warnw("http shutdown", "error", err)
		}
		if err := sess.Close(sctx); err != nil {
			logger.Warnw("session close", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Infow("stopped")
	return err
}

// connectionTest counts the players table once. A failure is logged and
// startup goes on; Initialize reports the same problem to the player.
func connectionTest(ctx context.Context, backend store.Backend, logger *zap.SugaredLogger) bool {
	n, err := backend.CountPlayers(ctx)
	if err != nil {
		logger.Errorw("connection test failed", "error", err)
		return false
	}
	logger.Infow("connection test passed", "players", n)
	return true
}

func openBackend(ctx, base context.Context, cfg config.Config, logger *zap.SugaredLogger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(base), nil

	case config.BackendSQLite:
		return sqlite.Open(base, cfg.SQLitePath)

	case config.BackendPostgres:
		dsn, err := cfg.DSN()
		if err != nil {
			return nil, err
		}
		pg, err := postgres.Open(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Infow("schema migrated")
		}
		return pg, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, cfg.Backend)
}
