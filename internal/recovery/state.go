package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/metrics"
)

// ErrInvalidTransition is returned when a phase change is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed phase changes. GivenUp is terminal.
var ValidTransitions = map[domain.Phase][]domain.Phase{
	domain.PhaseStable:     {domain.PhaseRestarting},
	domain.PhaseRestarting: {domain.PhaseStable, domain.PhaseGivenUp},
}

// CanTransition checks if a transition from one phase to another is valid.
func CanTransition(from, to domain.Phase) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition records a phase change.
type Transition struct {
	From      domain.Phase
	To        domain.Phase
	Reason    string
	Timestamp time.Time
}

// beginOutcome explains why a restart request was or was not accepted.
type beginOutcome int

const (
	beginAccepted beginOutcome = iota
	beginInProgress
	beginThrottled
	beginGivenUp
)

// State is the process-wide supervisor state. It is created once at startup
// and handed to every component that reads or mutates it.
type State struct {
	mu          sync.RWMutex
	s           domain.SupervisorState
	clock       clock.Clock
	transitions []Transition
	onChange    func(Transition)
}

// NewState creates a Stable state with zero attempts.
func NewState(clk clock.Clock) *State {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	st := &State{
		clock: clk,
		s: domain.SupervisorState{
			Phase:             domain.PhaseStable,
			LastHealthCheckAt: now,
			StartedAt:         now,
		},
	}
	st.publishMetrics()
	return st
}

// Snapshot returns a copy of the current state.
func (st *State) Snapshot() domain.SupervisorState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// IsRestarting reports whether a restart cycle is in flight.
func (st *State) IsRestarting() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.IsRestarting
}

// Phase returns the current phase.
func (st *State) Phase() domain.Phase {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Phase
}

// Attempts returns the restart attempt counter.
func (st *State) Attempts() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.RestartAttempts
}

// LastHealthCheck returns the liveness timestamp.
func (st *State) LastHealthCheck() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.LastHealthCheckAt
}

// MarkHealthCheck stamps the liveness timestamp.
func (st *State) MarkHealthCheck(at time.Time) {
	st.mu.Lock()
	if at.After(st.s.LastHealthCheckAt) {
		st.s.LastHealthCheckAt = at
	}
	st.mu.Unlock()
}

// Transitions returns the most recent phase changes, oldest first.
func (st *State) Transitions() []Transition {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Transition, len(st.transitions))
	copy(out, st.transitions)
	return out
}

// SetTransitionCallback registers a callback invoked after every phase change.
func (st *State) SetTransitionCallback(fn func(Transition)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onChange = fn
}

// ResetAttempts sets the attempt counter to zero and reports whether it
// changed.
func (st *State) ResetAttempts() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.RestartAttempts == 0 {
		return false
	}
	st.s.RestartAttempts = 0
	metrics.RestartAttempts.Set(0)
	return true
}

// begin is the guarded Stable -> Restarting transition. The check and the
// flag set happen under one lock so concurrent triggers cannot both win.
// When force is set the throttle is bypassed.
func (st *State) begin(reason string, minInterval, stableResetAfter time.Duration, force bool) (beginOutcome, time.Duration) {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.s.Phase == domain.PhaseGivenUp:
		return beginGivenUp, 0
	case st.s.IsRestarting:
		return beginInProgress, 0
	}

	if !force && !st.s.LastRestartAt.IsZero() {
		if elapsed := now.Sub(st.s.LastRestartAt); elapsed < minInterval {
			return beginThrottled, minInterval - elapsed
		}
	}

	if stableResetAfter > 0 && !st.s.LastRecoveredAt.IsZero() &&
		now.Sub(st.s.LastRecoveredAt) >= stableResetAfter {
		st.s.RestartAttempts = 0
	}

	st.s.IsRestarting = true
	st.s.LastRestartAt = now
	st.s.LastReason = reason
	st.transitionLocked(domain.PhaseRestarting, reason, now)
	return beginAccepted, 0
}

// incrementAttempts bumps the counter at the start of a reconnect.
func (st *State) incrementAttempts() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.RestartAttempts++
	metrics.RestartAttempts.Set(float64(st.s.RestartAttempts))
	return st.s.RestartAttempts
}

func (st *State) setReason(reason string) {
	st.mu.Lock()
	st.s.LastReason = reason
	st.mu.Unlock()
}

// recovered is the Restarting -> Stable transition. A fresh connection
// counts as liveness.
func (st *State) recovered(reason string) error {
	now := st.clock.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.transitionLocked(domain.PhaseStable, reason, now); err != nil {
		return err
	}
	st.s.IsRestarting = false
	st.s.LastRecoveredAt = now
	st.s.LastHealthCheckAt = now
	return nil
}

// started records a successful first connect without a phase change.
func (st *State) started() {
	now := st.clock.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.RestartAttempts = 0
	st.s.LastRecoveredAt = now
	st.s.LastHealthCheckAt = now
	metrics.RestartAttempts.Set(0)
}

// giveUp is the Restarting -> GivenUp transition.
func (st *State) giveUp(reason string) error {
	now := st.clock.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.transitionLocked(domain.PhaseGivenUp, reason, now); err != nil {
		return err
	}
	st.s.IsRestarting = false
	return nil
}

func (st *State) transitionLocked(to domain.Phase, reason string, now time.Time) error {
	from := st.s.Phase
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	st.s.Phase = to

	t := Transition{From: from, To: to, Reason: reason, Timestamp: now}
	// Keep only the last 10 transitions
	if len(st.transitions) >= 10 {
		copy(st.transitions, st.transitions[1:])
		st.transitions[len(st.transitions)-1] = t
	} else {
		st.transitions = append(st.transitions, t)
	}

	st.publishMetricsLocked()
	if st.onChange != nil {
		st.onChange(t)
	}
	return nil
}

func (st *State) publishMetrics() {
	st.mu.RLock()
	defer st.mu.RUnlock()
	st.publishMetricsLocked()
}

func (st *State) publishMetricsLocked() {
	for _, p := range []domain.Phase{domain.PhaseStable, domain.PhaseRestarting, domain.PhaseGivenUp} {
		v := 0.0
		if p == st.s.Phase {
			v = 1
		}
		metrics.SupervisorPhase.WithLabelValues(string(p)).Set(v)
	}
	metrics.RestartAttempts.Set(float64(st.s.RestartAttempts))
}
