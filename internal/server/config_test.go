package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, 20, cfg.HistoryReplay)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, http://localhost:3000")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "500ms")
	t.Setenv("SEND_BUFFER", "16")
	t.Setenv("HISTORY_REPLAY", "0")
	t.Setenv("SHUTDOWN_TIMEOUT", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 16, cfg.SendBuffer)
	assert.Equal(t, 0, cfg.HistoryReplay)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestNewConfigFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-5")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "0")
	t.Setenv("SEND_BUFFER", "0")
	t.Setenv("HISTORY_REPLAY", "-1")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg := NewConfigFromEnv()
	def := NewConfig()

	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.SendBuffer, cfg.SendBuffer)
	assert.Equal(t, def.HistoryReplay, cfg.HistoryReplay)
	assert.Equal(t, def.ShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"2", 2 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"1m", time.Minute, false},
		{"0", 0, true},
		{"-1s", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestNewConfigFromEnvBlankOriginsKeepDefault(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " , ,")
	t.Setenv("SERVER_PORT", "   ")

	cfg := NewConfigFromEnv()
	def := NewConfig()
	assert.Equal(t, def.AllowedOrigins, cfg.AllowedOrigins)
	assert.Equal(t, def.Port, cfg.Port)
}

func TestConfigSanitize(t *testing.T) {
	cfg := Config{HistoryReplay: -3, AllowedOrigins: []string{"http://a.test"}}
	got := cfg.sanitize()

	def := defaultConfig()
	assert.Equal(t, def.Port, got.Port)
	assert.Equal(t, def.MaxMessageSize, got.MaxMessageSize)
	assert.Equal(t, def.RateLimit, got.RateLimit)
	assert.Equal(t, def.SendBuffer, got.SendBuffer)
	assert.Equal(t, def.ShutdownTimeout, got.ShutdownTimeout)
	assert.Zero(t, got.HistoryReplay)

	got.AllowedOrigins[0] = "mutated"
	assert.Equal(t, "http://a.test", cfg.AllowedOrigins[0])
}

func TestConfigHubOptions(t *testing.T) {
	cfg := NewConfig()
	cfg.SendBuffer = 8
	cfg.RateLimit = RateLimitConfig{Burst: 4, RefillInterval: 2 * time.Second}
	cfg.HistoryReplay = 5

	opts := cfg.HubOptions(nil)
	require.Equal(t, 8, opts.Handler.SendBuffer)
	assert.Equal(t, 4, opts.Handler.RateBurst)
	assert.Equal(t, 2*time.Second, opts.Handler.RateInterval)
	assert.Equal(t, 5, opts.HistoryReplay)
}
