// Package connection owns the single live platform connection.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/core/retry"
	"github.com/vietddude/warden/internal/infra/transport"
	"github.com/vietddude/warden/internal/recovery"
)

// Event sources published to the failure bus.
const (
	SourcePolling = "polling"
	SourceBot     = "bot"
)

const (
	defaultInboundBuffer = 100
	defaultProbeTimeout  = 30 * time.Second
)

// Config configures the manager.
type Config struct {
	Credentials transport.Credentials
	PollTimeout time.Duration
	Retry       retry.Policy
}

// DefaultRetryPolicy is used for connect attempts.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		Name:           "connect",
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		Multiplier:     2,
		MaxDelay:       retry.DefaultMaxDelay,
		AttemptTimeout: 30 * time.Second,
	}
}

// Manager keeps at most one live handle. The previous handle is always torn
// down before a new one is created.
type Manager struct {
	transport transport.Transport
	cfg       Config
	bus       recovery.Publisher
	logger    *slog.Logger

	// lifecycle serializes Connect and Teardown.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	handle     transport.Handle
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}

	inbound chan domain.Message
}

// NewManager creates a manager.
func NewManager(t transport.Transport, cfg Config, bus recovery.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	return &Manager{
		transport: t,
		cfg:       cfg,
		bus:       bus,
		logger:    logger,
		inbound:   make(chan domain.Message, defaultInboundBuffer),
	}
}

// Inbound delivers messages from whichever handle is live. The channel
// outlives individual handles.
func (m *Manager) Inbound() <-chan domain.Message {
	return m.inbound
}

// Current returns the live handle or nil.
func (m *Manager) Current() transport.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// Connect replaces the live handle with a fresh, streaming one.
func (m *Manager) Connect(ctx context.Context) (transport.Handle, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.teardownLocked(ctx); err != nil {
		m.logger.Warn("Previous connection did not stop cleanly", "error", err)
	}

	opts := transport.Options{Streaming: true, PollTimeout: m.cfg.PollTimeout}
	h, err := retry.Execute(ctx, m.cfg.Retry, func(ctx context.Context) (transport.Handle, error) {
		return m.transport.Connect(ctx, m.cfg.Credentials, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.handle = h
	m.pumpCancel = cancel
	m.pumpDone = done
	m.mu.Unlock()

	go m.pump(pumpCtx, h, done)

	id := h.Identity()
	m.logger.Info("Connection established", "username", id.Username, "id", id.ID)
	return h, nil
}

// Teardown stops the live handle. The handle is discarded even when
// stopping fails; the error is returned for logging only.
func (m *Manager) Teardown(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.teardownLocked(ctx)
}

func (m *Manager) teardownLocked(ctx context.Context) error {
	m.mu.Lock()
	h, cancel, done := m.handle, m.pumpCancel, m.pumpDone
	m.handle, m.pumpCancel, m.pumpDone = nil, nil, nil
	m.mu.Unlock()

	if h == nil {
		return nil
	}

	cancel()
	err := h.StopStreaming(ctx)

	select {
	case <-done:
	case <-ctx.Done():
	}

	if err != nil {
		m.logger.Warn("Error stopping polling", "error", err)
		return fmt.Errorf("failed to stop streaming: %w", err)
	}
	m.logger.Debug("Connection torn down")
	return nil
}

// Probe checks the live handle.
func (m *Manager) Probe(ctx context.Context) error {
	h := m.Current()
	if h == nil {
		return transport.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()
	return h.Probe(ctx)
}

// Send delivers a reply through the live handle.
func (m *Manager) Send(ctx context.Context, reply domain.Reply) error {
	h := m.Current()
	if h == nil {
		return transport.ErrNotConnected
	}
	return h.Send(ctx, reply)
}

// ReportError publishes an asynchronous connection error.
func (m *Manager) ReportError(source string, err error) {
	m.bus.Publish(recovery.Event{Kind: recovery.EventFailure, Source: source, Err: err})
}

func (m *Manager) pump(ctx context.Context, h transport.Handle, done chan struct{}) {
	defer close(done)
	events := h.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EventMessage:
				select {
				case m.inbound <- ev.Message:
				case <-ctx.Done():
					return
				}
			case transport.EventPollingError:
				m.ReportError(SourcePolling, ev.Err)
			default:
				m.ReportError(SourceBot, ev.Err)
			}
		}
	}
}
