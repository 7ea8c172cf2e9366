package domain

import "time"

// SupervisorState is a point-in-time view of the restart state machine.
type SupervisorState struct {
	Phase             Phase     `json:"phase"`
	RestartAttempts   int       `json:"restart_attempts"`
	IsRestarting      bool      `json:"is_restarting"`
	LastRestartAt     time.Time `json:"last_restart_at"`
	LastRecoveredAt   time.Time `json:"last_recovered_at"`
	LastHealthCheckAt time.Time `json:"last_health_check_at"`
	LastReason        string    `json:"last_reason,omitempty"`
	StartedAt         time.Time `json:"started_at"`
}

type Phase string

const (
	PhaseStable     Phase = "stable"
	PhaseRestarting Phase = "restarting"
	PhaseGivenUp    Phase = "given_up"
)

// Restart reasons used across the supervisor and its triggers.
const (
	ReasonHangDetected   = "hang detected"
	ReasonStartupFailure = "startup failure"
	ReasonRetryFailed    = "restart failed, retrying"
)
