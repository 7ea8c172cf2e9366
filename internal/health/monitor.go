package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/metrics"
	"github.com/vietddude/warden/internal/recovery"
)

// SourceWatchdog labels hang events.
const SourceWatchdog = "watchdog"

// Config holds the liveness timers.
type Config struct {
	HeartbeatInterval time.Duration
	WatchdogInterval  time.Duration
	HangThreshold     time.Duration
}

// DefaultConfig returns the production timers.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Minute,
		WatchdogInterval:  5 * time.Minute,
		HangThreshold:     20 * time.Minute,
	}
}

// Prober performs a cheap round trip over the live connection.
type Prober interface {
	Probe(ctx context.Context) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock.
func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMaxRestartAttempts sets the limit reported in status output.
func WithMaxRestartAttempts(n int) Option {
	return func(m *Monitor) { m.maxAttempts = n }
}

// Monitor tracks liveness and reports hangs to the failure bus.
type Monitor struct {
	cfg         Config
	state       *recovery.State
	prober      Prober
	bus         recovery.Publisher
	clock       clock.Clock
	logger      *slog.Logger
	maxAttempts int
}

// NewMonitor creates a monitor. prober may be nil.
func NewMonitor(cfg Config, state *recovery.State, prober Prober, bus recovery.Publisher, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		state:  state,
		prober: prober,
		bus:    bus,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkActivity stamps the liveness timestamp.
func (m *Monitor) MarkActivity() {
	m.state.MarkHealthCheck(m.clock.Now())
}

// Heartbeat stamps liveness, probes the connection and logs process
// statistics. A failed probe is logged and returned; the stamp still lands,
// so a platform-side outage alone never reads as a hang.
func (m *Monitor) Heartbeat(ctx context.Context) error {
	m.MarkActivity()

	var probeErr error
	if m.prober != nil {
		if probeErr = m.prober.Probe(ctx); probeErr != nil {
			m.logger.Warn("Heartbeat probe failed", "error", probeErr)
		}
	}

	snap := m.state.Snapshot()
	stats := CollectProcessStats(ctx, snap.StartedAt)
	m.logger.Info("Bot heartbeat",
		"uptime_s", stats.UptimeSeconds,
		"heap_mb", round1(stats.HeapMB()),
		"rss_mb", round1(stats.RSSMB()),
		"restarts", snap.RestartAttempts,
		"probe_ok", probeErr == nil,
	)
	return probeErr
}

// CheckHang publishes a hang event when liveness is older than the
// threshold and no restart is in flight. It reports whether one was sent.
func (m *Monitor) CheckHang() bool {
	snap := m.state.Snapshot()
	since := m.clock.Since(snap.LastHealthCheckAt)
	metrics.SecondsSinceHealthCheck.Set(since.Seconds())

	if since <= m.cfg.HangThreshold || snap.IsRestarting || snap.Phase == domain.PhaseGivenUp {
		return false
	}

	m.logger.Error("Bot appears to be hung, last health check too old",
		"seconds_since_health_check", int64(since.Seconds()),
		"threshold", m.cfg.HangThreshold,
	)
	return m.bus.Publish(recovery.Event{
		Kind:   recovery.EventHang,
		Source: SourceWatchdog,
		At:     m.clock.Now(),
	})
}

// Status builds the status report served over HTTP and the bot.
func (m *Monitor) Status(ctx context.Context) StatusReport {
	snap := m.state.Snapshot()
	return StatusReport{
		Status:                  StatusFor(snap.Phase),
		Supervisor:              snap,
		MaxRestartAttempts:      m.maxAttempts,
		SecondsSinceHealthCheck: int64(m.clock.Since(snap.LastHealthCheckAt).Seconds()),
		Process:                 CollectProcessStats(ctx, snap.StartedAt),
	}
}

// HeartbeatService runs Heartbeat on its interval.
func (m *Monitor) HeartbeatService() *TimerService {
	return &TimerService{
		name:     "health-heartbeat",
		interval: m.cfg.HeartbeatInterval,
		clock:    m.clock,
		tick: func(ctx context.Context) {
			_ = m.Heartbeat(ctx)
		},
	}
}

// WatchdogService runs CheckHang on its interval.
func (m *Monitor) WatchdogService() *TimerService {
	return &TimerService{
		name:     "health-watchdog",
		interval: m.cfg.WatchdogInterval,
		clock:    m.clock,
		tick: func(context.Context) {
			m.CheckHang()
		},
	}
}

// TimerService calls tick on a fixed interval until its context ends.
type TimerService struct {
	name     string
	interval time.Duration
	clock    clock.Clock
	tick     func(ctx context.Context)
}

func (s *TimerService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *TimerService) String() string {
	return s.name
}

func round1(v float64) float64 {
	return float64(int64(v*10)) / 10
}
