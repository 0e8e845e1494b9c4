// Package config loads server configuration from the environment, with an
// optional .env file for development. Priority: env vars > .env > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
type Config struct {
	// Server basics
	Addr string `env:"WS_ADDR" envDefault:":8420"`

	// Connection capacity and heartbeat
	MaxConnections    int           `env:"WS_MAX_CONNECTIONS" envDefault:"162"`
	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL" envDefault:"48s"`

	// Quality score parameters. Score starts at baseline, grows with
	// per-connection message frequency scaled by gain, saturates at cap.
	QualityBaseline float64 `env:"WS_QUALITY_BASELINE" envDefault:"0.618"`
	QualityCap      float64 `env:"WS_QUALITY_CAP" envDefault:"1.618"`
	QualityGain     float64 `env:"WS_QUALITY_GAIN" envDefault:"0.1"`

	// Sliding-window request limiter for the upgrade path, keyed by
	// caller IP.
	RateLimitRequests int           `env:"WS_RATE_LIMIT_REQUESTS" envDefault:"162"`
	RateLimitWindow   time.Duration `env:"WS_RATE_LIMIT_WINDOW" envDefault:"97s"`

	// Token-bucket connection-attempt limits (burst flood protection).
	ConnRateIPBurst     int     `env:"WS_CONN_RATE_IP_BURST" envDefault:"10"`
	ConnRateIPRate      float64 `env:"WS_CONN_RATE_IP_RATE" envDefault:"1.0"`
	ConnRateGlobalBurst int     `env:"WS_CONN_RATE_GLOBAL_BURST" envDefault:"300"`
	ConnRateGlobalRate  float64 `env:"WS_CONN_RATE_GLOBAL_RATE" envDefault:"50.0"`

	// Upstream update feed (disabled when empty).
	NATSURL string `env:"NATS_URL" envDefault:""`

	// Channel write deadline per outbound frame.
	WriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`

	// HTTP server timeouts.
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from the .env file and environment variables.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Missing .env is fine; production uses env vars directly.
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be > 0, got %s", c.HeartbeatInterval)
	}
	if c.QualityBaseline <= 0 {
		return fmt.Errorf("WS_QUALITY_BASELINE must be > 0, got %g", c.QualityBaseline)
	}
	if c.QualityCap < c.QualityBaseline {
		return fmt.Errorf("WS_QUALITY_CAP (%g) must be >= WS_QUALITY_BASELINE (%g)",
			c.QualityCap, c.QualityBaseline)
	}
	if c.QualityGain < 0 {
		return fmt.Errorf("WS_QUALITY_GAIN must be >= 0, got %g", c.QualityGain)
	}
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("WS_RATE_LIMIT_REQUESTS must be > 0, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT_WINDOW must be > 0, got %s", c.RateLimitWindow)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Float64("quality_baseline", c.QualityBaseline).
		Float64("quality_cap", c.QualityCap).
		Float64("quality_gain", c.QualityGain).
		Int("rate_limit_requests", c.RateLimitRequests).
		Dur("rate_limit_window", c.RateLimitWindow).
		Str("nats_url", c.NATSURL).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
