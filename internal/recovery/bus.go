package recovery

import (
	"log/slog"
	"time"

	"github.com/vietddude/warden/internal/metrics"
)

// DefaultBusSize is the failure event buffer length.
const DefaultBusSize = 64

// EventKind distinguishes failure events.
type EventKind int

const (
	// EventFailure carries an error to be classified.
	EventFailure EventKind = iota
	// EventHang is raised by the watchdog and always escalates.
	EventHang
)

// Event is a failure report published to the bus.
type Event struct {
	Kind   EventKind
	Source string
	Err    error
	At     time.Time
}

// Publisher accepts failure events.
type Publisher interface {
	Publish(ev Event) bool
}

// Bus carries failure events from producers to the dispatcher. Publishing
// never blocks; events are dropped when the buffer is full.
type Bus struct {
	ch     chan Event
	logger *slog.Logger
}

// NewBus creates a bus with the given buffer size.
func NewBus(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = DefaultBusSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{ch: make(chan Event, size), logger: logger}
}

// Publish enqueues ev and reports whether it was accepted.
func (b *Bus) Publish(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case b.ch <- ev:
		return true
	default:
		metrics.EventsDroppedTotal.Inc()
		b.logger.Warn("Failure event dropped, bus full", "source", ev.Source, "error", ev.Err)
		return false
	}
}

// Events returns the receive side of the bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
