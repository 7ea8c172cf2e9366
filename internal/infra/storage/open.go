package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/warden/internal/infra/redis"
	"github.com/vietddude/warden/internal/infra/storage/badgerdb"
	"github.com/vietddude/warden/internal/infra/storage/file"
	"github.com/vietddude/warden/internal/infra/storage/memory"
	"github.com/vietddude/warden/internal/infra/storage/postgres"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverBadger   = "badger"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Driver    string
	Path      string
	URL       string
	Password  string
	Namespace string
	MaxConns  int
	MinConns  int
}

// Open creates the backend named by cfg.Driver. Postgres migrations are
// applied before the backend is returned.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case DriverMemory:
		return memory.NewMemoryStorage(), nil

	case DriverFile, "":
		s, err := file.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil

	case DriverBadger:
		s, err := badgerdb.Open(badgerdb.Config{Path: cfg.Path, SyncWrites: true, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil

	case DriverRedis:
		c, err := redis.NewClient(redis.Config{
			URL:       cfg.URL,
			Password:  cfg.Password,
			Namespace: cfg.Namespace,
		})
		if err != nil {
			return nil, err
		}
		return c, nil

	case DriverPostgres:
		db, err := postgres.NewDB(ctx, postgres.Config{
			URL:      cfg.URL,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		db.StartMetricsCollector(ctx)
		return postgres.NewStateRepo(db), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
