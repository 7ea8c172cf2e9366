package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/infra/transport"
	"github.com/vietddude/warden/internal/metrics"
)

// ErrGivenUp is returned by Start when the supervisor already gave up.
var ErrGivenUp = errors.New("supervisor gave up")

// Config holds the restart policy.
type Config struct {
	MinRestartInterval time.Duration
	MaxRestartAttempts int
	QuiescenceDelay    time.Duration
	RetryDelay         time.Duration
	StartupRetryDelay  time.Duration
	// StableResetAfter resets the attempt counter when a trigger arrives
	// after this long without a restart. Zero disables the reset.
	StableResetAfter time.Duration
}

// DefaultConfig returns the production restart policy.
func DefaultConfig() Config {
	return Config{
		MinRestartInterval: 30 * time.Second,
		MaxRestartAttempts: 5,
		QuiescenceDelay:    3 * time.Second,
		RetryDelay:         5 * time.Second,
		StartupRetryDelay:  10 * time.Second,
		StableResetAfter:   10 * time.Minute,
	}
}

// Saver persists application state before a restart.
type Saver interface {
	Save(ctx context.Context) error
}

// Connector owns the platform connection.
type Connector interface {
	Connect(ctx context.Context) (transport.Handle, error)
	Teardown(ctx context.Context) error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for delays.
func WithClock(clk clock.Clock) Option {
	return func(s *Supervisor) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// Supervisor runs bounded, throttled, state-preserving restart cycles.
type Supervisor struct {
	cfg    Config
	state  *State
	saver  Saver
	conn   Connector
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context

	wg         sync.WaitGroup
	givenUp    chan struct{}
	giveUpOnce sync.Once
}

// NewSupervisor creates a supervisor over the given state.
func NewSupervisor(cfg Config, state *State, saver Saver, conn Connector, opts ...Option) *Supervisor {
	if cfg.MaxRestartAttempts < 1 {
		cfg.MaxRestartAttempts = 1
	}
	s := &Supervisor{
		cfg:     cfg,
		state:   state,
		saver:   saver,
		conn:    conn,
		clock:   clock.New(),
		logger:  slog.Default(),
		givenUp: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the supervised state.
func (s *Supervisor) State() *State {
	return s.state
}

// GivenUp is closed once the supervisor exhausts its restart attempts.
func (s *Supervisor) GivenUp() <-chan struct{} {
	return s.givenUp
}

// Start performs the first connect. On failure a restart cycle is scheduled
// after StartupRetryDelay and Start returns nil; the cycle owns recovery
// from then on. ctx bounds every later cycle.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.state.Phase() == domain.PhaseGivenUp {
		return ErrGivenUp
	}

	handle, err := s.conn.Connect(ctx)
	if err == nil {
		s.state.started()
		id := handle.Identity()
		s.logger.Info("Bot connected", "username", id.Username, "id", id.ID)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.Error("Failed to start bot",
		"error", err,
		"retry_in", s.cfg.StartupRetryDelay,
	)

	outcome, _ := s.state.begin(domain.ReasonStartupFailure, s.cfg.MinRestartInterval, 0, true)
	if outcome != beginAccepted {
		return nil
	}
	metrics.RestartsTotal.WithLabelValues(domain.ReasonStartupFailure).Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sleep(ctx, s.cfg.StartupRetryDelay); err != nil {
			return
		}
		s.runCycles(ctx, domain.ReasonStartupFailure)
	}()
	return nil
}

// Trigger requests a restart cycle. It returns true when a cycle was
// started and false when the request was dropped.
func (s *Supervisor) Trigger(ctx context.Context, reason string) bool {
	outcome, remaining := s.state.begin(reason, s.cfg.MinRestartInterval, s.cfg.StableResetAfter, false)

	switch outcome {
	case beginInProgress:
		s.logger.InfoContext(ctx, "Restart already in progress, skipping", "reason", reason)
		return false
	case beginThrottled:
		metrics.RestartsThrottledTotal.Inc()
		s.logger.WarnContext(ctx, "Restart throttled",
			"reason", reason,
			"remaining_seconds", int(remaining.Round(time.Second)/time.Second),
		)
		return false
	case beginGivenUp:
		s.logger.WarnContext(ctx, "Restart ignored, supervisor gave up", "reason", reason)
		return false
	}

	metrics.RestartsTotal.WithLabelValues(reason).Inc()

	base := s.base()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCycles(base, reason)
	}()
	return true
}

// NoteActivity resets the attempt counter after a successfully processed
// inbound event.
func (s *Supervisor) NoteActivity() {
	if s.state.IsRestarting() {
		return
	}
	if s.state.ResetAttempts() {
		s.logger.Info("Restart counter reset after successful activity")
	}
}

// Wait blocks until in-flight restart cycles return.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) base() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// runCycles repeats restart cycles until one reconnects, the attempt budget
// is spent, or ctx is cancelled.
func (s *Supervisor) runCycles(ctx context.Context, reason string) {
	cycleID := uuid.NewString()
	for {
		err := s.cycle(ctx, cycleID, reason)
		if err == nil {
			if terr := s.state.recovered(reason); terr != nil {
				s.logger.Error("Failed to mark recovery", "error", terr)
			}
			s.logger.Info("Bot restarted successfully",
				"cycle_id", cycleID,
				"attempts", s.state.Attempts(),
			)
			return
		}
		if ctx.Err() != nil {
			s.logger.Info("Restart cycle cancelled", "cycle_id", cycleID)
			return
		}

		attempts := s.state.Attempts()
		if attempts >= s.cfg.MaxRestartAttempts {
			s.giveUp(cycleID, attempts, err)
			return
		}

		s.logger.Warn("Restart failed, retrying",
			"cycle_id", cycleID,
			"attempt", attempts,
			"max_attempts", s.cfg.MaxRestartAttempts,
			"retry_in", s.cfg.RetryDelay,
			"error", err,
		)
		reason = domain.ReasonRetryFailed
		s.state.setReason(reason)
		if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
			return
		}
	}
}

// cycle runs save, teardown, quiescence and reconnect in that order.
func (s *Supervisor) cycle(ctx context.Context, cycleID, reason string) error {
	s.logger.Warn("Initiating graceful restart", "reason", reason, "cycle_id", cycleID)

	if err := s.saver.Save(ctx); err != nil {
		s.logger.Error("Failed to save state before restart", "cycle_id", cycleID, "error", err)
	} else {
		s.logger.Info("State saved before restart", "cycle_id", cycleID)
	}

	if err := s.conn.Teardown(ctx); err != nil {
		s.logger.Warn("Error stopping polling", "cycle_id", cycleID, "error", err)
	}

	if err := s.sleep(ctx, s.cfg.QuiescenceDelay); err != nil {
		return err
	}

	attempt := s.state.incrementAttempts()
	s.logger.Info("Restarting bot",
		"cycle_id", cycleID,
		"attempt", attempt,
		"max_attempts", s.cfg.MaxRestartAttempts,
	)

	if _, err := s.conn.Connect(ctx); err != nil {
		s.logger.Error("Reconnect failed", "cycle_id", cycleID, "attempt", attempt, "error", err)
		return err
	}
	return nil
}

func (s *Supervisor) giveUp(cycleID string, attempts int, err error) {
	if terr := s.state.giveUp("maximum restart attempts reached"); terr != nil {
		s.logger.Error("Failed to mark give-up", "error", terr)
	}
	s.logger.Error("Maximum restart attempts reached, manual intervention required",
		"cycle_id", cycleID,
		"attempts", attempts,
		"error", err,
	)
	s.giveUpOnce.Do(func() { close(s.givenUp) })
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}
