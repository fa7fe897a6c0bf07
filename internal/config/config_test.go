package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AUTH_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Simulator.Enabled)
	assert.Equal(t, time.Minute, cfg.Simulator.Interval)
	assert.Equal(t, 10, cfg.Simulator.TickSeconds)
	assert.Equal(t, 6, cfg.Simulator.TicksPerRun)
	assert.Equal(t, 50.0, cfg.RateLimit.RPS)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
}

func TestLoadRequiresAuthSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth secret")
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	path := writeConfig(t, `
http:
  port: "9090"
log:
  level: debug
database:
  dsn: postgres://localhost/chargehub
redis:
  addr: localhost:6379
auth:
  tokenTtl: 30m
simulator:
  enabled: false
  interval: 2m
rateLimit:
  rps: 10
  burst: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres://localhost/chargehub", cfg.Database.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Simulator.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Simulator.Interval)
	assert.Equal(t, 10.0, cfg.RateLimit.RPS)
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("SIMULATOR_TICK_SECONDS", "30")
	path := writeConfig(t, `
http:
  port: "9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.HTTP.Port)
	assert.Equal(t, 30, cfg.Simulator.TickSeconds)
}

func TestLoadViaConfigFileEnv(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	path := writeConfig(t, `
log:
  level: warn
`)
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadClampsNonPositiveDurations(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("AUTH_TOKEN_TTL", "-5m")
	t.Setenv("SIMULATOR_INTERVAL", "0s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, time.Minute, cfg.Simulator.Interval)
}

func TestHTTPAddress(t *testing.T) {
	var cfg Config
	cfg.HTTP.Port = "8080"
	assert.Equal(t, ":8080", cfg.HTTPAddress())

	cfg.HTTP.Port = ":9090"
	assert.Equal(t, ":9090", cfg.HTTPAddress())

	cfg.HTTP.Port = ""
	assert.Equal(t, ":8080", cfg.HTTPAddress())
}
