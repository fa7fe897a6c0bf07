// Package config loads service configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config defines the chargehub service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"HTTP_PORT"`
	} `yaml:"http"`
	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`
	Database struct {
		// DSN is the Postgres connection string. When empty the service
		// runs on the in-memory store (local development only).
		DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
	} `yaml:"redis"`
	Auth struct {
		Secret   string        `yaml:"secret" env:"AUTH_SECRET"`
		TokenTTL time.Duration `yaml:"tokenTtl" env:"AUTH_TOKEN_TTL"`
	} `yaml:"auth"`
	Simulator struct {
		Enabled     bool          `yaml:"enabled" env:"SIMULATOR_ENABLED"`
		Interval    time.Duration `yaml:"interval" env:"SIMULATOR_INTERVAL"`
		TickSeconds int           `yaml:"tickSeconds" env:"SIMULATOR_TICK_SECONDS"`
		TicksPerRun int           `yaml:"ticksPerRun" env:"SIMULATOR_TICKS_PER_RUN"`
	} `yaml:"simulator"`
	RateLimit struct {
		RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
		Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
	} `yaml:"rateLimit"`
}

// Load reads configuration from path (or the CONFIG_FILE env variable when
// path is empty), applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Simulator.Enabled = true
	cfg.Simulator.Interval = time.Minute
	cfg.Simulator.TickSeconds = 10
	cfg.Simulator.TicksPerRun = 6
	cfg.RateLimit.RPS = 50
	cfg.RateLimit.Burst = 100

	if err := bind(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return nil, errors.New("config: auth secret required")
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Simulator.Interval <= 0 {
		cfg.Simulator.Interval = time.Minute
	}
	if cfg.Simulator.TickSeconds <= 0 {
		cfg.Simulator.TickSeconds = 10
	}
	if cfg.Simulator.TicksPerRun <= 0 {
		cfg.Simulator.TicksPerRun = 6
	}
	return cfg, nil
}

// HTTPAddress returns the listen address in :port form.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
