package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/lapak?sslmode=disable",
		"REDIS_URL":    "redis://localhost:6379/0",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 24*time.Hour, cfg.IdempotencyWindow)
	require.Equal(t, 30*time.Second, cfg.ProcessTimeout)
	require.Equal(t, 3, cfg.RetryMaxAttempts)
	require.Equal(t, time.Second, cfg.RetryBase)
	require.Equal(t, 10*time.Second, cfg.RetryMaxDelay)
	require.Equal(t, 5, cfg.CircuitStorageMinReq)
	require.InDelta(t, 0.6, cfg.CircuitStorageFailureRate, 0.0001)
	require.Equal(t, "lapak", cfg.QueueRedisPrefix)
	require.Equal(t, 10, cfg.QueueMaxAttempts)
	require.Equal(t, 30*time.Second, cfg.LockTTL)
	require.True(t, cfg.NotifyEmailOn)
	require.Equal(t, 50, cfg.AdminPerPageDefault)
}

func TestLoadRequiredValues(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env = baseEnv()
	env["REDIS_URL"] = ""
	_, err = config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9090"
	env["WEBHOOK_IDEMPOTENCY_WINDOW"] = "1h"
	env["WEBHOOK_RETRY_MAX_ATTEMPTS"] = "5"
	env["CORS_ALLOWED_ORIGINS"] = "https://shop.example.com, https://admin.example.com"
	env["NOTIFY_EMAIL_ENABLED"] = "false"
	env["QUEUE_BACKOFF_BASE"] = "50ms"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, time.Hour, cfg.IdempotencyWindow)
	require.Equal(t, 5, cfg.RetryMaxAttempts)
	require.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
	require.False(t, cfg.NotifyEmailOn)
	require.Equal(t, 50*time.Millisecond, cfg.QueueBackoffBase)
}

func TestLoadMalformedDurationFallsBack(t *testing.T) {
	env := baseEnv()
	env["WEBHOOK_PROCESS_TIMEOUT"] = "soon"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.ProcessTimeout)
}

func TestAlipayKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alipay.pem")
	require.NoError(t, os.WriteFile(path, []byte("-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----\n"), 0o600))

	env := baseEnv()
	env["ALIPAY_PUBLIC_KEY"] = ""
	env["ALIPAY_PUBLIC_KEY_FILE"] = path
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Contains(t, cfg.AlipayPublicKey, "BEGIN PUBLIC KEY")

	// Inline PEM wins over the file path.
	env["ALIPAY_PUBLIC_KEY"] = "inline-key"
	cfg, err = config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "inline-key", cfg.AlipayPublicKey)
}
