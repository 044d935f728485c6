package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 5*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, 5*time.Minute, cfg.DamageTimeout)
	assert.Equal(t, 6, cfg.DamageRatePerMinute)
	assert.Equal(t, 7*24*time.Hour, cfg.DamageResultTTL)
	assert.Equal(t, 5, cfg.LoginRatePerMinute)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, int32(10), cfg.PGMaxConns)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresCSRFSecret(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CSRF_SECRET", "secret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("BACKEND_URL", "https://api.example.test")
	t.Setenv("REFRESH_TIMEOUT", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "https://api.example.test", cfg.BackendURL)
	assert.Equal(t, 2*time.Second, cfg.RefreshTimeout)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, parseLevel(nil))
	assert.Equal(t, slog.LevelDebug, parseLevel(&Config{LogLevel: "DEBUG"}))
	assert.Equal(t, slog.LevelWarn, parseLevel(&Config{LogLevel: "warning"}))
	assert.Equal(t, slog.LevelError, parseLevel(&Config{LogLevel: "error"}))
	assert.Equal(t, slog.LevelInfo, parseLevel(&Config{LogLevel: "verbose"}))
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "test"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
