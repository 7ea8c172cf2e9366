// Package state owns the durable application state and persists it through
// a storage backend.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/infra/storage"
	"github.com/vietddude/warden/internal/metrics"
)

var (
	// ErrNotLoaded is returned by Save before Load succeeded.
	ErrNotLoaded = errors.New("state not loaded")
)

const (
	// DefaultSaveInterval is the periodic save cadence.
	DefaultSaveInterval = 5 * time.Second

	finalSaveTimeout = 10 * time.Second
)

// Option configures a Store.
type Option func(*Store)

// WithSaveInterval sets the periodic save cadence.
func WithSaveInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// WithClock sets the clock driving the periodic save.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the single owner of the persisted state.
type Store struct {
	backend  storage.Backend
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu     sync.RWMutex
	data   domain.PersistedState
	loaded bool

	// saveMu orders writes so an older snapshot never lands after a newer one.
	saveMu sync.Mutex
}

// NewStore creates a store over backend.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		interval: DefaultSaveInterval,
		clock:    clock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the backend and merges the default collections. When nothing
// was persisted yet the defaults are written back.
func (s *Store) Load(ctx context.Context) error {
	persisted, err := s.backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	merged := persisted.WithDefaults()

	s.mu.Lock()
	s.data = merged
	s.loaded = true
	s.mu.Unlock()

	if persisted == nil {
		s.logger.Info("No persisted state found, writing defaults")
		if err := s.Save(ctx); err != nil {
			return err
		}
	}

	s.logger.Info("State loaded", "collections", len(merged))
	return nil
}

// Save writes a deep copy of the current state. Repeated saves of the same
// state produce the same stored document.
func (s *Store) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	if !s.loaded {
		s.mu.RUnlock()
		return ErrNotLoaded
	}
	snapshot := s.data.Clone()
	s.mu.RUnlock()

	if err := s.backend.Write(ctx, snapshot); err != nil {
		metrics.StateSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save state: %w", err)
	}
	metrics.StateSavesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.PersistedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

// Replace swaps in a new state. Default collections are re-added.
func (s *Store) Replace(next domain.PersistedState) {
	merged := next.WithDefaults()
	s.mu.Lock()
	s.data = merged
	s.loaded = true
	s.mu.Unlock()
}

// Update mutates the state in place under the write lock. A non-nil error
// from fn is returned unchanged; mutations made before the error are kept.
func (s *Store) Update(fn func(domain.PersistedState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = domain.PersistedState(nil).WithDefaults()
	}
	return fn(s.data)
}

// Serve saves every interval until ctx is cancelled, then saves once more.
func (s *Store) Serve(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
			err := s.Save(finalCtx)
			cancel()
			if err != nil && !errors.Is(err, ErrNotLoaded) {
				s.logger.Error("Final state save failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Save(ctx); err != nil && !errors.Is(err, ErrNotLoaded) {
				s.logger.Error("Periodic state save failed", "error", err)
			}
		}
	}
}

func (s *Store) String() string {
	return "state-saver"
}
