// Package relay provides configuration loading with sanitized defaults for
// the relay process.
package relay

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines per-session inbound frame throttling.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay's runtime settings. Zero values are replaced with
// defaults by Sanitize.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// NATSURL enables the cross-process fan-out bus when non-empty.
	NATSURL string

	// DatabaseURL and WebhookSecret enable the billing webhook boundary
	// when both are non-empty.
	DatabaseURL   string
	WebhookSecret string
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimitConfig{
			Burst:          60,
			RefillInterval: time.Second,
		},
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// defaults for anything unset or unparseable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitOrigins(origins)
	}
	if raw := os.Getenv("MAX_MESSAGE_SIZE"); raw != "" {
		cfg.MaxMessageSize = parseInt64(raw, cfg.MaxMessageSize)
	}
	if raw := os.Getenv("RATE_LIMIT_BURST"); raw != "" {
		cfg.RateLimit.Burst = parseInt(raw, cfg.RateLimit.Burst)
	}
	if raw := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); raw != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(raw, cfg.RateLimit.RefillInterval)
	}
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.WebhookSecret = os.Getenv("BILLING_WEBHOOK_SECRET")

	return cfg.Sanitize()
}

// Sanitize replaces out-of-range values with defaults.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.HasPrefix(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	return cfg
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func parseInt64(raw string, fallback int64) int64 {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
		return v
	}
	return fallback
}

func parseInt(raw string, fallback int) int {
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func parseSeconds(raw string, fallback time.Duration) time.Duration {
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return fallback
}
