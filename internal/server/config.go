// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat relay.
package server

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// A zero Burst turns the limiter off.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST,default=0" validate:"gte=0"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s" validate:"gt=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port                 string `env:"SERVER_PORT,default=:8080" validate:"required"`
	PortFallbackAttempts int    `env:"PORT_FALLBACK_ATTEMPTS,default=11" validate:"gte=1,lte=100"`
	// AllowedOriginsRaw is the comma separated form read from the environment.
	AllowedOriginsRaw string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	AllowedOrigins    []string
	MaxMessageSize    int64 `env:"MAX_MESSAGE_SIZE,default=65536" validate:"gte=1024"`
	HistoryCapacity   int   `env:"HISTORY_CAPACITY,default=200" validate:"gte=1"`
	MaxTextLength     int   `env:"MAX_TEXT_LENGTH,default=1000" validate:"gte=1"`
	SendBufferSize    int   `env:"SEND_BUFFER_SIZE,default=256" validate:"gte=1"`
	RateLimit         RateLimitConfig
	LogLevel          string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

func defaultConfig() Config {
	return Config{
		Port:                 ":8080",
		PortFallbackAttempts: 11,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  64 << 10,
		HistoryCapacity: DefaultHistoryCapacity,
		MaxTextLength:   DefaultMaxTextLength,
		SendBufferSize:  256,
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
		LogLevel: "INFO",
	}
}

// sanitizeConfig replaces unset or out-of-range values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.PortFallbackAttempts <= 0 {
		cfg.PortFallbackAttempts = def.PortFallbackAttempts
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv reads the configuration from environment variables,
// applying defaults for unset variables, and validates the result.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}
	if _, err := env.UnmarshalFromEnviron(&cfg.RateLimit); err != nil {
		return nil, fmt.Errorf("read rate limit config: %w", err)
	}
	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOriginsRaw)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
