package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	Port   string
	DBPath string

	// Tunables (integer seconds in the environment, durations here)
	PingInterval     time.Duration
	RoomExpiry       time.Duration
	ReconnectTimeout time.Duration
	TurnDuration     time.Duration

	// Per-player action ceiling inside a 1-second window
	MaxActionsPerSecond int

	// Optional variables with defaults
	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	// Connection-level rate limits (ulule/limiter formatted rates)
	RateLimitAPIPublic string
	RateLimitWsIP      string
}

// ValidateEnv validates all recognised environment variables and returns a
// Config object. Returns an error listing every invalid variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.DBPath = getEnvOrDefault("DB_PATH", "/data/gamehistory.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must not be empty")
	}

	var err error
	if cfg.PingInterval, err = secondsVar("PING_INTERVAL", 30); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.RoomExpiry, err = secondsVar("ROOM_EXPIRY", 3600); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.ReconnectTimeout, err = secondsVar("RECONNECT_TIMEOUT", 120); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.TurnDuration, err = secondsVar("TURN_DURATION", 90); err != nil {
		errs = append(errs, err.Error())
	}

	maxActions := getEnvOrDefault("MAX_ACTIONS_PER_SECOND", "10")
	cfg.MaxActionsPerSecond, err = strconv.Atoi(maxActions)
	if err != nil || cfg.MaxActionsPerSecond < 1 {
		errs = append(errs, fmt.Sprintf("MAX_ACTIONS_PER_SECOND must be a positive integer (got '%s')", maxActions))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Defaults: M = Minute
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "300-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

// Development reports whether the process runs in a development environment.
func (c *Config) Development() bool {
	return c.GoEnv != "production"
}

// secondsVar reads an integer-seconds environment variable as a duration.
func secondsVar(key string, def int) (time.Duration, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(def))
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 1 {
		return 0, fmt.Errorf("%s must be a positive integer number of seconds (got '%s')", key, raw)
	}
	return time.Duration(secs) * time.Second, nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
