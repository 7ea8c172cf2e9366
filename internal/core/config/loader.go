package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrMissingToken is returned by Validate when no bot token is configured.
var ErrMissingToken = errors.New("bot token is required (bot.token or BOT_TOKEN)")

// Load reads configuration from a YAML file, applies environment overrides
// and fills defaults. A missing file yields defaults plus environment.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			// Expand environment variables in the YAML content
			expandedData := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Validate checks settings required to run the bot.
func (c *AppConfig) Validate() error {
	if c.Bot.Token == "" {
		return ErrMissingToken
	}
	if c.Supervisor.MaxRestartAttempts < 1 {
		return fmt.Errorf("supervisor.max_restart_attempts must be >= 1, got %d", c.Supervisor.MaxRestartAttempts)
	}
	if c.Health.HangThreshold <= c.Health.WatchdogInterval {
		return fmt.Errorf("health.hang_threshold (%s) must exceed health.watchdog_interval (%s)",
			c.Health.HangThreshold, c.Health.WatchdogInterval)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	if v, ok := os.LookupEnv("BOT_TOKEN"); ok && v != "" {
		cfg.Bot.Token = v
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv("OWNER_IDS"); ok && v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("invalid OWNER_IDS: %w", err)
		}
		cfg.Bot.OwnerIDs = ids
	}
	if v, ok := os.LookupEnv("MAX_RESTART_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_RESTART_ATTEMPTS %q: %w", v, err)
		}
		cfg.Supervisor.MaxRestartAttempts = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MIN_RESTART_INTERVAL", &cfg.Supervisor.MinRestartInterval},
		{"HEARTBEAT_INTERVAL", &cfg.Health.HeartbeatInterval},
		{"HANG_THRESHOLD", &cfg.Health.HangThreshold},
	}
	for _, d := range durations {
		v, ok := os.LookupEnv(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

// parseDuration accepts Go durations ("30s") and bare integers as seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func applyDefaults(cfg *AppConfig) {
	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}

	if cfg.Bot.PollTimeout == 0 {
		cfg.Bot.PollTimeout = 30 * time.Second
	}
	if cfg.Bot.RatePerSecond == 0 {
		cfg.Bot.RatePerSecond = 25
	}
	if cfg.Bot.Burst == 0 {
		cfg.Bot.Burst = 5
	}

	s := &cfg.Supervisor
	if s.MinRestartInterval == 0 {
		s.MinRestartInterval = 30 * time.Second
	}
	if s.MaxRestartAttempts == 0 {
		s.MaxRestartAttempts = 5
	}
	if s.QuiescenceDelay == 0 {
		s.QuiescenceDelay = 3 * time.Second
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = 5 * time.Second
	}
	if s.StartupRetryDelay == 0 {
		s.StartupRetryDelay = 10 * time.Second
	}
	if s.StableResetAfter == 0 {
		s.StableResetAfter = 10 * time.Minute
	}

	h := &cfg.Health
	if h.HeartbeatInterval == 0 {
		h.HeartbeatInterval = 15 * time.Minute
	}
	if h.WatchdogInterval == 0 {
		h.WatchdogInterval = 5 * time.Minute
	}
	if h.HangThreshold == 0 {
		h.HangThreshold = 20 * time.Minute
	}

	c := &cfg.Connection
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Driver {
		case "badger":
			cfg.Storage.Path = "data/state"
		default:
			cfg.Storage.Path = "database.json"
		}
	}
	if cfg.Storage.SaveInterval == 0 {
		cfg.Storage.SaveInterval = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 14
	}
}
