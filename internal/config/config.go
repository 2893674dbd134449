package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// Config holds the server configuration.
type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR"`
	DatabasePath   string        `env:"DATABASE_PATH"`
	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL"`
	MaxMessageSize int           `env:"MAX_MESSAGE_SIZE"`
	LogLevel       string        `env:"LOG_LEVEL"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		DatabasePath:   "beacon.db",
		TokenTTL:       24 * time.Hour,
		MaxMessageSize: 65536, // 64KB
		LogLevel:       "info",
	}
}

// Load reads configuration from the environment on top of the defaults.
// JWT_SECRET has no default and must be set.
func Load() (Config, error) {
	cfg := Default()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	return cfg, nil
}
