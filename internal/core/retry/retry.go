// Package retry runs fallible operations with bounded, exponentially
// backed-off attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vietddude/warden/internal/metrics"
)

// ErrExhaustedRetries is matched by every error returned after the last
// attempt failed.
var ErrExhaustedRetries = errors.New("retries exhausted")

// Operation is a single attempt of the work being retried.
type Operation[T any] func(ctx context.Context) (T, error)

// Policy defines retry behavior for one call site.
type Policy struct {
	// Name labels log lines and metrics (e.g. "connect", "send").
	Name string

	MaxAttempts int
	BaseDelay   time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
	// MaxDelay caps a single wait. Zero means DefaultMaxDelay.
	MaxDelay time.Duration
	// AttemptTimeout bounds each attempt when positive.
	AttemptTimeout time.Duration
	// ShouldRetry, when set, stops retrying as soon as it returns false;
	// the error is then returned as is.
	ShouldRetry func(err error) bool

	Logger *slog.Logger
	Clock  clock.Clock
}

// DefaultMaxDelay caps the computed backoff.
const DefaultMaxDelay = 60 * time.Second

// DefaultPolicy provides sensible defaults for outbound API calls.
var DefaultPolicy = Policy{
	Name:           "call",
	MaxAttempts:    3,
	BaseDelay:      1 * time.Second,
	Multiplier:     2.0,
	MaxDelay:       DefaultMaxDelay,
	AttemptTimeout: 30 * time.Second,
}

// ExhaustedError wraps the last failure of an operation.
type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExhaustedRetries) hold.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhaustedRetries }

// Execute calls op up to p.MaxAttempts times. Attempt k (1-based) is preceded
// by a wait of Delay(k-1); the first attempt runs immediately.
func Execute[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	var zero T
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := runAttempt(ctx, p, op)
		if err == nil {
			if attempt > 1 {
				p.Logger.Info("Operation succeeded after retry", "operation", p.Name, "attempt", attempt)
			}
			metrics.RetryAttemptsTotal.WithLabelValues(p.Name, "success").Inc()
			return result, nil
		}

		lastErr = err
		metrics.RetryAttemptsTotal.WithLabelValues(p.Name, "failure").Inc()
		p.Logger.Warn("Operation attempt failed",
			"operation", p.Name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"error", err,
		)

		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		delay := p.Delay(attempt)
		p.Logger.Debug("Waiting before retry", "operation", p.Name, "delay", delay)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-p.Clock.After(delay):
		}
	}

	return zero, &ExhaustedError{Name: p.Name, Attempts: p.MaxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Name == "" {
		p.Name = "operation"
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	return p
}
