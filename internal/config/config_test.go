package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8420", cfg.Addr)
	assert.Equal(t, 162, cfg.MaxConnections)
	assert.Equal(t, 48*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 0.618, cfg.QualityBaseline)
	assert.Equal(t, 1.618, cfg.QualityCap)
	assert.Equal(t, 0.1, cfg.QualityGain)
	assert.Equal(t, 162, cfg.RateLimitRequests)
	assert.Equal(t, 97*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 10, cfg.ConnRateIPBurst)
	assert.Equal(t, 300, cfg.ConnRateGlobalBurst)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WS_ADDR", ":9000")
	t.Setenv("WS_MAX_CONNECTIONS", "50")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("WS_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 50, cfg.MaxConnections)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(nil)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "empty addr",
			mutate: func(c *Config) { c.Addr = "" },
			errMsg: "WS_ADDR",
		},
		{
			name:   "zero max connections",
			mutate: func(c *Config) { c.MaxConnections = 0 },
			errMsg: "WS_MAX_CONNECTIONS",
		},
		{
			name:   "negative heartbeat",
			mutate: func(c *Config) { c.HeartbeatInterval = -time.Second },
			errMsg: "WS_HEARTBEAT_INTERVAL",
		},
		{
			name:   "zero quality baseline",
			mutate: func(c *Config) { c.QualityBaseline = 0 },
			errMsg: "WS_QUALITY_BASELINE",
		},
		{
			name:   "cap below baseline",
			mutate: func(c *Config) { c.QualityCap = 0.5 },
			errMsg: "WS_QUALITY_CAP",
		},
		{
			name:   "negative gain",
			mutate: func(c *Config) { c.QualityGain = -0.1 },
			errMsg: "WS_QUALITY_GAIN",
		},
		{
			name:   "zero rate limit",
			mutate: func(c *Config) { c.RateLimitRequests = 0 },
			errMsg: "WS_RATE_LIMIT_REQUESTS",
		},
		{
			name:   "zero rate window",
			mutate: func(c *Config) { c.RateLimitWindow = 0 },
			errMsg: "WS_RATE_LIMIT_WINDOW",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.LogLevel = "verbose" },
			errMsg: "LOG_LEVEL",
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.LogFormat = "xml" },
			errMsg: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_InvalidEnvValueFails(t *testing.T) {
	t.Setenv("WS_MAX_CONNECTIONS", "-5")

	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_MAX_CONNECTIONS")
}
