// Package config provides configuration management for Seatkeeper.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string
	DatabaseURL string

	HeartbeatTTL  time.Duration // seat reclamation threshold (default: 600s)
	TrialDuration time.Duration // 0 means trials never expire

	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	RedisURL          string // optional shared rate limit store
	TrustedProxies    []string

	AllocationRetention time.Duration // 0 disables compaction
	RetentionSchedule   string

	MetricsEnabled bool // serve /metrics (default: true)
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":" + getEnvString("PORT", "3000")
	}

	ttl := getEnvInt("HEARTBEAT_TTL_SECONDS", 600)
	if ttl <= 0 {
		ttl = 600
	}

	trial := getEnvInt("TRIAL_DURATION_SECONDS", 0)
	if trial < 0 {
		trial = 0
	}

	rateLimit := getEnvInt("RATE_LIMIT_REQUESTS", 100)
	if rateLimit < 0 {
		rateLimit = 100
	}

	retentionDays := getEnvInt("ALLOCATION_RETENTION_DAYS", 0)
	if retentionDays < 0 {
		retentionDays = 0
	}

	return ServerConfig{
		Environment:         env,
		ListenAddr:          listenAddr,
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		HeartbeatTTL:        time.Duration(ttl) * time.Second,
		TrialDuration:       time.Duration(trial) * time.Second,
		RateLimitRequests:   int64(rateLimit),
		RateLimitPeriod:     getEnvDuration("RATE_LIMIT_PERIOD", time.Minute),
		RedisURL:            os.Getenv("REDIS_URL"),
		TrustedProxies:      getEnvList("TRUSTED_PROXIES"),
		AllocationRetention: time.Duration(retentionDays) * 24 * time.Hour,
		RetentionSchedule:   getEnvString("ALLOCATION_RETENTION_SCHEDULE", "0 3 * * *"),
		MetricsEnabled:      getEnvBool("METRICS_ENABLED", true),
	}
}

// Validate checks that required settings are present.
func (c ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.AllocationRetention > 0 && c.AllocationRetention <= c.HeartbeatTTL {
		return errors.New("ALLOCATION_RETENTION_DAYS must exceed the heartbeat TTL")
	}
	return nil
}

// IsProduction reports whether the server runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a Go duration such as "1m" or "30s", returning the
// default if unset, invalid or not positive.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvList reads a comma-separated list, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
