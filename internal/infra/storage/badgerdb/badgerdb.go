// Package badgerdb stores each top-level state collection under its own
// key in an embedded Badger database.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/vietddude/warden/internal/core/domain"
)

const keyPrefix = "state/"

var errClosed = errors.New("badger storage closed")

// Config holds Badger options.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// Storage is a Badger-backed state backend.
type Storage struct {
	db     *badger.DB
	closed atomic.Bool
}

// Open opens (or creates) the database.
func Open(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Read(ctx context.Context) (domain.PersistedState, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("badger read: %w", errClosed)
	}

	var state domain.PersistedState
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), keyPrefix)
			err := item.Value(func(val []byte) error {
				var v any
				if err := json.Unmarshal(val, &v); err != nil {
					return fmt.Errorf("decode %q: %w", name, err)
				}
				if state == nil {
					state = domain.PersistedState{}
				}
				state[name] = v
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return state, nil
}

// Write replaces every collection in one transaction and removes the ones
// no longer present.
func (s *Storage) Write(ctx context.Context, state domain.PersistedState) error {
	if s.closed.Load() {
		return fmt.Errorf("badger write: %w", errClosed)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			if _, ok := state[name]; !ok {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("failed to delete %q: %w", key, err)
			}
		}

		for name, v := range state {
			val, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode %q: %w", name, err)
			}
			if err := txn.Set([]byte(keyPrefix+name), val); err != nil {
				return fmt.Errorf("failed to set %q: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Storage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
