// Package health provides liveness monitoring and status reporting.
package health

import (
	"github.com/vietddude/warden/internal/core/domain"
)

// SystemStatus represents the overall health state of the bot.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// StatusFor maps a supervisor phase to a system status.
func StatusFor(phase domain.Phase) SystemStatus {
	switch phase {
	case domain.PhaseStable:
		return StatusHealthy
	case domain.PhaseRestarting:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// StatusReport contains the full status report.
type StatusReport struct {
	Status                  SystemStatus           `json:"status"`
	Supervisor              domain.SupervisorState `json:"supervisor"`
	MaxRestartAttempts      int                    `json:"max_restart_attempts"`
	SecondsSinceHealthCheck int64                  `json:"seconds_since_health_check"`
	Process                 ProcessStats           `json:"process"`
}
