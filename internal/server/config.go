package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-connection request rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	SendBuffer      int
	HistoryReplay   int
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		SendBuffer:      256,
		HistoryReplay:   20,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        slog.LevelInfo,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, after loading
// a .env file from the working directory if one exists. Unset or invalid
// values fall back to defaults.
func NewConfigFromEnv() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "err", err)
	}

	cfg := defaultConfig()
	env := envSource{log: slog.Default()}

	env.str("SERVER_PORT", &cfg.Port)
	env.list("ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	env.size("MAX_MESSAGE_SIZE", &cfg.MaxMessageSize)
	env.integer("RATE_LIMIT_BURST", 1, &cfg.RateLimit.Burst)
	env.duration("RATE_LIMIT_REFILL_INTERVAL", &cfg.RateLimit.RefillInterval)
	env.integer("SEND_BUFFER", 1, &cfg.SendBuffer)
	env.integer("HISTORY_REPLAY", 0, &cfg.HistoryReplay)
	env.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	env.level("LOG_LEVEL", &cfg.LogLevel)

	return &cfg
}

// sanitize replaces zero or negative values with defaults.
func (c Config) sanitize() Config {
	def := defaultConfig()
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.HistoryReplay < 0 {
		c.HistoryReplay = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// HubOptions translates the configuration into chat.Options.
func (c *Config) HubOptions(logger *slog.Logger) chat.Options {
	cfg := c.sanitize()
	return chat.Options{
		Handler: chat.HandlerConfig{
			SendBuffer:   cfg.SendBuffer,
			RateBurst:    cfg.RateLimit.Burst,
			RateInterval: cfg.RateLimit.RefillInterval,
		},
		HistoryReplay: cfg.HistoryReplay,
		Logger:        logger,
	}
}

var errOutOfRange = errors.New("value out of range")

// envSource assigns typed settings from the process environment. A setting
// that is unset leaves its field alone; one that fails to parse is logged and
// also leaves it alone.
type envSource struct {
	log *slog.Logger
}

func (e envSource) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (e envSource) reject(key, value string, err error) {
	e.log.Warn("ignoring invalid setting", "key", key, "value", value, "err", err)
}

func (e envSource) str(key string, dst *string) {
	if value, ok := e.lookup(key); ok {
		*dst = value
	}
}

// list splits a comma separated value, dropping blank items.
func (e envSource) list(key string, dst *[]string) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		e.reject(key, value, errOutOfRange)
		return
	}
	*dst = items
}

// integer accepts values no smaller than floor.
func (e envSource) integer(key string, floor int, dst *int) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err == nil && n < floor {
		err = errOutOfRange
	}
	if err != nil {
		e.reject(key, value, err)
		return
	}
	*dst = n
}

// size accepts a positive byte count.
func (e envSource) size(key string, dst *int64) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err == nil && n <= 0 {
		err = errOutOfRange
	}
	if err != nil {
		e.reject(key, value, err)
		return
	}
	*dst = n
}

func (e envSource) duration(key string, dst *time.Duration) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := parseDuration(value)
	if err != nil {
		e.reject(key, value, err)
		return
	}
	*dst = d
}

func (e envSource) level(key string, dst *slog.Level) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		e.reject(key, value, err)
		return
	}
	*dst = level
}

// parseDuration reads whole seconds ("2") or a Go duration ("500ms"). The
// result must be positive.
func parseDuration(value string) (time.Duration, error) {
	var d time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if d, err = time.ParseDuration(value); err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errOutOfRange
	}
	return d, nil
}
