package memory

import (
	"context"
	"sync"

	"github.com/vietddude/warden/internal/core/domain"
)

// Storage keeps the state in process memory. Used for tests and for
// running without persistence.
type Storage struct {
	mu     sync.RWMutex
	state  domain.PersistedState
	writes int
}

func NewMemoryStorage() *Storage {
	return &Storage{}
}

func (s *Storage) Read(ctx context.Context) (domain.PersistedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

func (s *Storage) Write(ctx context.Context, state domain.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
	s.writes++
	return nil
}

// Writes returns how many times Write was called.
func (s *Storage) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Storage) Close() error {
	return nil
}
