// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the RoomChat service.
package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings, including the room engine
// tunables and security controls. Every value has a working default, so a
// zero-environment deployment runs with the canonical constants: 50 history
// entries, 500-character messages, 30s pings, 10s/20s sweeps.
type Config struct {
	Port             string        `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	HistoryLimit     int           `env:"HISTORY_LIMIT" envDefault:"50"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"500"`
	MaxFrameSize     int64         `env:"MAX_FRAME_SIZE" envDefault:"4096"`
	PingInterval     time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	TerminateSweep   time.Duration `env:"TERMINATE_SWEEP_INTERVAL" envDefault:"10s"`
	RefilterSweep    time.Duration `env:"REFILTER_SWEEP_INTERVAL" envDefault:"20s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit        RateLimitConfig
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port:             ":8080",
		AllowedOrigins:   []string{"http://localhost:8080"},
		HistoryLimit:     50,
		MaxMessageLength: 500,
		MaxFrameSize:     4096,
		PingInterval:     30 * time.Second,
		TerminateSweep:   10 * time.Second,
		RefilterSweep:    20 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaults.MaxMessageLength
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaults.MaxFrameSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.TerminateSweep <= 0 {
		cfg.TerminateSweep = defaults.TerminateSweep
	}
	if cfg.RefilterSweep <= 0 {
		cfg.RefilterSweep = defaults.RefilterSweep
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// falling back to defaults for anything unset. Invalid values (zero or
// negative limits and intervals) are clamped back to defaults when the
// config is applied via SetConfig.
func NewConfigFromEnv() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return &cfg, nil
}
