package retry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingClock fires After immediately and remembers the requested waits.
type recordingClock struct {
	*clock.Mock
	waits []time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{Mock: clock.NewMock()}
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now().Add(d)
	return ch
}

func testPolicy(clk clock.Clock, buf *bytes.Buffer, attempts int) Policy {
	return Policy{
		Name:        "test",
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		Logger:      slog.New(slog.NewTextHandler(buf, nil)),
		Clock:       clk,
	}
}

func TestExecute_SucceedsOnThirdAttempt(t *testing.T) {
	clk := newRecordingClock()
	var buf bytes.Buffer

	calls := 0
	handle, err := Execute(context.Background(), testPolicy(clk, &buf, 3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("dial tcp: connection refused")
		}
		return "handle", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "handle", handle)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, strings.Count(buf.String(), "Operation attempt failed"))
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, clk.waits)
}

func TestExecute_ExhaustsAndWrapsLastError(t *testing.T) {
	clk := newRecordingClock()
	var buf bytes.Buffer
	lastErr := errors.New("attempt 4")

	calls := 0
	_, err := Execute(context.Background(), testPolicy(clk, &buf, 4), func(ctx context.Context) (int, error) {
		calls++
		if calls == 4 {
			return 0, lastErr
		}
		return 0, errors.New("earlier")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhaustedRetries))
	assert.True(t, errors.Is(err, lastErr))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, 4, calls)

	// Waits before attempts 2..4: base, 2*base, 4*base. None before attempt 1.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clk.waits)
}

func TestExecute_SingleAttemptIsPassthrough(t *testing.T) {
	clk := newRecordingClock()
	var buf bytes.Buffer

	calls := 0
	_, err := Execute(context.Background(), testPolicy(clk, &buf, 1), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})

	require.ErrorIs(t, err, ErrExhaustedRetries)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.waits)
	assert.Equal(t, 1, strings.Count(buf.String(), "Operation attempt failed"))
}

func TestExecute_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer

	// A real mock clock never fires unless advanced, so the wait blocks
	// until the context is cancelled.
	p := testPolicy(clock.NewMock(), &buf, 3)

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, p, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("fail")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}

func TestExecute_AttemptTimeout(t *testing.T) {
	var buf bytes.Buffer
	p := testPolicy(newRecordingClock(), &buf, 1)
	p.AttemptTimeout = 10 * time.Millisecond

	_, err := Execute(context.Background(), p, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_DelayDefaultCap(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	assert.Equal(t, DefaultMaxDelay, p.Delay(20))
}

func TestExecute_ShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	p := Policy{
		Name:        "send",
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Logger:      slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Clock:       clock.NewMock(),
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	}

	_, err := Execute(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, ErrExhaustedRetries)
}
