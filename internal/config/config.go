// Package config reads flags and the database secrets. Secrets only come
// from the environment, optionally seeded from .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingSecret = errors.New("missing secret")
var ErrInvalidConfig = errors.New("invalid config")

const (
	EnvDBURL = "ARENA_DB_URL"
	EnvDBKey = "ARENA_DB_KEY"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type Config struct {
	Addr       string
	Backend    string
	SQLitePath string
	LogFile    string
	LogLevel   string
	FPS        int
	Migrate    bool

	DBURL string
	DBKey string
}

// FrameInterval is the render period for FPS.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// Load loads envFiles into the environment (existing variables win), then
// parses args. Missing env files are skipped.
func Load(args []string, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	fl := flag.NewFlagSet("arena-sync", flag.ContinueOnError)
	fl.SetOutput(io.Discard)
	fl.StringVar(&cfg.Addr, "addr", ":8080", "HTTP listen address")
	fl.StringVar(&cfg.Backend, "backend", BackendPostgres, "players table backend: postgres, sqlite or memory")
	fl.StringVar(&cfg.SQLitePath, "sqlite", "arena.db", "database file for the sqlite backend")
	fl.StringVar(&cfg.LogFile, "log-file", "", "rotated log file, empty for console only")
	fl.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error")
	fl.IntVar(&cfg.FPS, "fps", 30, "frames rendered per second")
	fl.BoolVar(&cfg.Migrate, "migrate", false, "create the players table and change trigger before starting")
	if err := fl.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.DBURL = os.Getenv(EnvDBURL)
	cfg.DBKey = os.Getenv(EnvDBKey)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.DBURL == "" {
			return fmt.Errorf("%w: %s", ErrMissingSecret, EnvDBURL)
		}
		if c.DBKey == "" {
			return fmt.Errorf("%w: %s", ErrMissingSecret, EnvDBKey)
		}
		if _, err := c.DSN(); err != nil {
			return err
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: -sqlite is empty", ErrInvalidConfig)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.FPS < 1 || c.FPS > 120 {
		return fmt.Errorf("%w: fps %d out of range 1..120", ErrInvalidConfig, c.FPS)
	}
	return nil
}

// DSN is DBURL with DBKey set as the password.
func (c Config) DSN() (string, error) {
	u, err := url.Parse(c.DBURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvDBURL, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("%w: %s must be a postgres:// url", ErrInvalidConfig, EnvDBURL)
	}
	user := "postgres"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, c.DBKey)
	return u.String(), nil
}
