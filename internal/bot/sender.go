package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/core/retry"
	"github.com/vietddude/warden/internal/infra/transport"
	"github.com/vietddude/warden/internal/metrics"
)

// ErrRateLimited is returned when the outbound limiter cannot admit a reply
// before the context ends.
var ErrRateLimited = errors.New("outbound rate limit exceeded")

// Replier delivers a reply over the live connection.
type Replier interface {
	Send(ctx context.Context, reply domain.Reply) error
}

// SenderConfig tunes outbound protection.
type SenderConfig struct {
	// RatePerSecond and Burst bound outbound messages.
	RatePerSecond float64
	Burst         int
	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Retry           retry.Policy
}

// DefaultSenderConfig stays under the Bot API's global send limit.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		RatePerSecond:   25,
		Burst:           5,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		Retry: retry.Policy{
			Name:           "send",
			MaxAttempts:    2,
			BaseDelay:      time.Second,
			AttemptTimeout: 30 * time.Second,
		},
	}
}

// Sender wraps a Replier with rate limiting, a circuit breaker and retries.
type Sender struct {
	replier Replier
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	policy  retry.Policy
	logger  *slog.Logger
}

// NewSender creates a protected sender.
func NewSender(replier Replier, cfg SenderConfig, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, transport.ErrNotConnected) && !errors.Is(err, gobreaker.ErrOpenState)
		}
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "telegram-send",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Not being connected is not the platform's fault.
			return err == nil || errors.Is(err, transport.ErrNotConnected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Sender{
		replier: replier,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: breaker,
		policy:  cfg.Retry,
		logger:  logger,
	}
}

// Send delivers reply. Not being connected is returned immediately.
func (s *Sender) Send(ctx context.Context, reply domain.Reply) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	start := time.Now()
	_, err := retry.Execute(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.replier.Send(ctx, reply)
		})
	})
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("failed to send reply to %d: %w", reply.ChatID, err)
	}
	return nil
}

// BreakerState reports the circuit breaker state.
func (s *Sender) BreakerState() gobreaker.State {
	return s.breaker.State()
}
