package recovery

import (
	"context"
	"log/slog"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/metrics"
)

// Trigger starts restart cycles.
type Trigger interface {
	Trigger(ctx context.Context, reason string) bool
}

// Dispatcher drains the bus, classifies each failure and escalates fatal
// ones to the supervisor. It is the only caller of Trigger for bus events.
type Dispatcher struct {
	bus     *Bus
	trigger Trigger
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(bus *Bus, trigger Trigger, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{bus: bus, trigger: trigger, logger: logger}
}

// Serve runs until ctx is cancelled.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.bus.Events():
			d.Handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) String() string {
	return "recovery-dispatcher"
}

// Handle processes a single event.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	if ev.Kind == EventHang {
		metrics.FailuresTotal.WithLabelValues("hang", ev.Source).Inc()
		d.logger.Error("Bot appears to be hung, triggering restart", "source", ev.Source)
		d.trigger.Trigger(ctx, domain.ReasonHangDetected)
		return
	}

	class := Classify(ev.Err)
	metrics.FailuresTotal.WithLabelValues(class.String(), ev.Source).Inc()

	if class == ClassLocal {
		d.logger.Warn("Non-fatal error", "source", ev.Source, "error", ev.Err)
		return
	}

	code := ErrorCode(ev.Err)
	if code == "" && ev.Err != nil {
		code = ev.Err.Error()
	}
	d.logger.Error("Fatal network error detected, attempting recovery",
		"source", ev.Source,
		"code", code,
		"error", ev.Err,
	)
	d.trigger.Trigger(ctx, "network error: "+code)
}
