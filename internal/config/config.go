package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Backoff   BackoffConfig
	Poll      PollConfig
	Persist   PersistConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// UpstreamConfig holds the generation service endpoints and credential.
// An empty PushURL disables the push channel entirely; the coordinator then
// runs on the poll fallback alone.
type UpstreamConfig struct {
	PushURL string        `envconfig:"UPSTREAM_PUSH_URL" default:""`
	APIURL  string        `envconfig:"UPSTREAM_API_URL" default:"http://localhost:9090"`
	Token   string        `envconfig:"UPSTREAM_TOKEN" default:""`
	Timeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`
}

// BackoffConfig holds push reconnect policy.
type BackoffConfig struct {
	Base        time.Duration `envconfig:"PUSH_BACKOFF_BASE" default:"1s"`
	MaxDelay    time.Duration `envconfig:"PUSH_BACKOFF_MAX" default:"30s"`
	MaxAttempts int           `envconfig:"PUSH_MAX_ATTEMPTS" default:"5"`
}

// PollConfig holds poll fallback cadence.
type PollConfig struct {
	Interval         time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	DegradedInterval time.Duration `envconfig:"POLL_DEGRADED_INTERVAL" default:"5s"`
}

// PersistConfig holds snapshot persistence layout.
type PersistConfig struct {
	Dir       string `envconfig:"PERSIST_DIR" default:"/tmp/bannerforge"`
	Namespace string `envconfig:"PERSIST_NAMESPACE" default:"sessions"`
	SessionID string `envconfig:"SESSION_ID" default:"default"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Upstream: UpstreamConfig{
			APIURL:  "http://localhost:9090",
			Timeout: 30 * time.Second,
		},
		Backoff: BackoffConfig{
			Base:        time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},
		Poll: PollConfig{
			Interval:         2 * time.Second,
			DegradedInterval: 5 * time.Second,
		},
		Persist: PersistConfig{
			Dir:       "/tmp/bannerforge",
			Namespace: "sessions",
			SessionID: "default",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
