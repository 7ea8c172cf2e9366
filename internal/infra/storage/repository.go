// Package storage defines the durable backend behind the state store and
// opens the configured implementation.
package storage

import (
	"context"
	"errors"

	"github.com/vietddude/warden/internal/core/domain"
)

var (
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown storage driver")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// Backend persists the application state as one document.
type Backend interface {
	// Read returns the persisted state, or nil when nothing was written yet.
	Read(ctx context.Context) (domain.PersistedState, error)

	// Write replaces the persisted state.
	Write(ctx context.Context, state domain.PersistedState) error

	// Close releases the backend's resources.
	Close() error
}

// HealthChecker is implemented by networked backends that can report
// whether their server is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}
