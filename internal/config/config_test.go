package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.False(t, cfg.AI.Active(), "AI must be inert without configuration")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/app?sslmode=disable")
	t.Setenv("STUDYHUB_WORKER_CONCURRENCY", "8")
	t.Setenv("STUDYHUB_WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("STUDYHUB_AI_ENABLED", "true")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db/app?sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.True(t, cfg.AI.Active())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  driver: memory
ai:
  enabled: true
  provider: mock
worker:
  max_attempts: 5
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.True(t, cfg.AI.Active(), "mock provider needs no key")
}

func TestLoad_LockTTLCoversStaleAfter(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cfg.Redis.LockTTL, cfg.Worker.StaleAfter)

	dir := t.TempDir()
	yaml := []byte(`
redis:
  lock_ttl: 1m
worker:
  stale_after: 20m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.Redis.LockTTL)
	assert.Equal(t, 20*time.Minute, cfg.Worker.StaleAfter)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STUDYHUB_DATABASE_DRIVER", "mysql")

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestAIConfig_Active(t *testing.T) {
	tests := []struct {
		name string
		cfg  AIConfig
		want bool
	}{
		{"disabled", AIConfig{Enabled: false, Provider: "mock"}, false},
		{"anthropic without key", AIConfig{Enabled: true, Provider: "anthropic"}, false},
		{"anthropic with key", AIConfig{Enabled: true, Provider: "anthropic", APIKey: "k"}, true},
		{"command", AIConfig{Enabled: true, Provider: "command"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Active())
		})
	}
}

func TestDatabaseConfig_DSNFromFields(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=n sslmode=disable", d.DSN())
}
