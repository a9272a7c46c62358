package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 100, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 1000, cfg.Leaderboard.MaxLimit)
	assert.Equal(t, time.Duration(0), cfg.Live.IdleTimeout, "reaper is off unless configured")
	assert.Equal(t, "game-results", cfg.Kafka.Topic)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_PG_PASSWORD", "s3cret")
	path := writeConfig(t, `
server:
  port: 9090
store:
  backend: postgres
postgres:
  host: db
  user: arena
  password: ${TEST_PG_PASSWORD}
  database: arena
live:
  idle_timeout: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://arena:s3cret@db:5432/arena?sslmode=disable", cfg.Postgres.ConnectionString())
	assert.Equal(t, 5*time.Minute, cfg.Live.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Live.ReapInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARENA_STORE_BACKEND", "redis")
	t.Setenv("ARENA_REDIS_ADDR", "cache:6380")
	t.Setenv("ARENA_KAFKA_BROKERS", "k1:9092,k2:9092")
	path := writeConfig(t, "store:\n  backend: sqlite\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown backend", body: "store:\n  backend: cassandra\n"},
		{name: "default above max", body: "leaderboard:\n  default_limit: 50\n  max_limit: 10\n"},
		{name: "negative idle timeout", body: "live:\n  idle_timeout: -1m\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMissingFileKeepsEnvironment(t *testing.T) {
	t.Setenv("ARENA_JWT_SECRET", "from-env")
	t.Setenv("ARENA_STORE_BACKEND", "postgres")
	t.Setenv("ARENA_PG_DSN", "postgres://arena@db:5432/arena")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://arena@db:5432/arena", cfg.Postgres.ConnectionString())
}

func TestLoadMissingFileRejectsBadEnvironment(t *testing.T) {
	t.Setenv("ARENA_STORE_BACKEND", "cassandra")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadUnreadablePath(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestPostgresDSNOverride(t *testing.T) {
	c := PostgresConfig{Host: "ignored", DSN: "postgres://x@y/z"}
	assert.Equal(t, "postgres://x@y/z", c.ConnectionString())
}
