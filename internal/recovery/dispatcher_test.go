package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/infra/transport"
)

type fakeTrigger struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeTrigger) Trigger(_ context.Context, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return true
}

func (f *fakeTrigger) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_Handle(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []string
	}{
		{
			name: "fatal polling error",
			ev: Event{Source: "polling", Err: &transport.Error{
				Code: transport.CodeFatal, Op: "getUpdates", Err: errors.New("EOF"),
			}},
			want: []string{"network error: EFATAL"},
		},
		{
			name: "message marker without code",
			ev:   Event{Source: "bot", Err: errors.New("dial tcp: ECONNREFUSED")},
			want: []string{"network error: dial tcp: ECONNREFUSED"},
		},
		{
			name: "platform error stays local",
			ev: Event{Source: "polling", Err: &transport.Error{
				Code: transport.CodePlatform, Op: "getUpdates", Err: errors.New("Conflict"),
			}},
			want: nil,
		},
		{
			name: "command failure stays local",
			ev:   Event{Source: "bot", Err: errors.New("invalid command")},
			want: nil,
		},
		{
			name: "hang always escalates",
			ev:   Event{Kind: EventHang, Source: "watchdog"},
			want: []string{domain.ReasonHangDetected},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := &fakeTrigger{}
			d := NewDispatcher(NewBus(1, discardLogger()), trig, discardLogger())
			d.Handle(context.Background(), tt.ev)
			assert.Equal(t, tt.want, trig.got())
		})
	}
}

func TestDispatcher_ServeDrainsBus(t *testing.T) {
	bus := NewBus(4, discardLogger())
	trig := &fakeTrigger{}
	d := NewDispatcher(bus, trig, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	require.True(t, bus.Publish(Event{Kind: EventHang, Source: "watchdog"}))
	require.Eventually(t, func() bool { return len(trig.got()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestBus_PublishDropsWhenFull(t *testing.T) {
	bus := NewBus(1, discardLogger())

	assert.True(t, bus.Publish(Event{Source: "bot", Err: errors.New("one")}))
	assert.False(t, bus.Publish(Event{Source: "bot", Err: errors.New("two")}))

	ev := <-bus.Events()
	assert.EqualError(t, ev.Err, "one")
	assert.False(t, ev.At.IsZero())
}

// A hang reported while a dispatcher feeds a real supervisor starts exactly
// one cycle, even when reported twice.
func TestDispatcher_HangStartsSingleCycle(t *testing.T) {
	conn := &fakeConnector{rec: &recorder{}}
	sup, _ := newTestSupervisor(t, testConfig(), conn)
	bus := NewBus(4, discardLogger())
	d := NewDispatcher(bus, sup, discardLogger())

	d.Handle(context.Background(), Event{Kind: EventHang, Source: "watchdog"})
	d.Handle(context.Background(), Event{Kind: EventHang, Source: "watchdog"})
	sup.Wait()

	assert.Equal(t, 1, conn.rec.count("connect"))
	assert.Equal(t, domain.ReasonHangDetected, sup.State().Snapshot().LastReason)
}
