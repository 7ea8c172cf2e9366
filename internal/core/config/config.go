package config

import (
	"time"

	redisclient "github.com/vietddude/warden/internal/infra/redis"
	"github.com/vietddude/warden/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Bot        BotConfig          `yaml:"bot"`
	Server     ServerConfig       `yaml:"server"`
	Supervisor SupervisorConfig   `yaml:"supervisor"`
	Health     HealthConfig       `yaml:"health"`
	Connection ConnectionConfig   `yaml:"connection"`
	Storage    StorageConfig      `yaml:"storage"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// BotConfig holds platform credentials and outbound limits.
type BotConfig struct {
	Token         string        `yaml:"token"`
	OwnerIDs      []int64       `yaml:"owner_ids"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SupervisorConfig holds the restart policy.
type SupervisorConfig struct {
	MinRestartInterval time.Duration `yaml:"min_restart_interval"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
	QuiescenceDelay    time.Duration `yaml:"quiescence_delay"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	StartupRetryDelay  time.Duration `yaml:"startup_retry_delay"`
	StableResetAfter   time.Duration `yaml:"stable_reset_after"`
}

// HealthConfig holds liveness timers.
type HealthConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
	HangThreshold     time.Duration `yaml:"hang_threshold"`
}

// ConnectionConfig holds the connect retry policy.
type ConnectionConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StorageConfig selects the state backend. Redis and Postgres connection
// details come from the redis and database sections.
type StorageConfig struct {
	Driver       string        `yaml:"driver"` // file, memory, badger, redis, postgres
	Path         string        `yaml:"path"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text (file sink only)
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
