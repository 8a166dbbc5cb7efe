package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Gateway credentials. The Alipay key may be supplied inline (PEM) or as
	// a file path; missing credentials degrade to per-callback verification
	// failures rather than refusing to boot.
	AlipayPublicKey    string
	CreemWebhookSecret string

	// Webhook pipeline tuning.
	IdempotencyWindow time.Duration
	ProcessTimeout    time.Duration
	RetryMaxAttempts  int
	RetryBase         time.Duration
	RetryMaxDelay     time.Duration

	// Storage circuit breaker.
	CircuitStorageMinReq      int
	CircuitStorageFailureRate float64
	CircuitStorageOpenFor     time.Duration

	// Triggered-action queue.
	QueueRedisPrefix       string
	QueueMaxAttempts       int
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration
	QueueBackoffJitter     float64

	// Delivery worker.
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	NotifyEmailFrom  string
	NotifyEmailOn    bool

	AdminPerPageDefault int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		AlipayPublicKey:    resolveKeyMaterial(k.String("ALIPAY_PUBLIC_KEY"), k.String("ALIPAY_PUBLIC_KEY_FILE")),
		CreemWebhookSecret: k.String("CREEM_WEBHOOK_SECRET"),

		IdempotencyWindow: parseDuration(k.String("WEBHOOK_IDEMPOTENCY_WINDOW"), "24h"),
		ProcessTimeout:    parseDuration(k.String("WEBHOOK_PROCESS_TIMEOUT"), "30s"),
		RetryMaxAttempts:  intOrDefault(k.Int("WEBHOOK_RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:         parseDuration(k.String("WEBHOOK_RETRY_BASE"), "1s"),
		RetryMaxDelay:     parseDuration(k.String("WEBHOOK_RETRY_MAX_DELAY"), "10s"),

		CircuitStorageMinReq:      intOrDefault(k.Int("CIRCUIT_STORAGE_MIN_REQUESTS"), 5),
		CircuitStorageFailureRate: floatOrDefault(k.Float64("CIRCUIT_STORAGE_FAILURE_RATE"), 0.6),
		CircuitStorageOpenFor:     parseDuration(k.String("CIRCUIT_STORAGE_OPEN_FOR"), "15s"),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "lapak"),
		QueueMaxAttempts:       intOrDefault(k.Int("QUEUE_MAX_ATTEMPTS"), 10),
		QueueConcurrency:       intOrDefault(k.Int("QUEUE_CONCURRENCY"), 4),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "200ms"),
		QueueBackoffJitter:     floatOrDefault(k.Float64("QUEUE_BACKOFF_JITTER"), 0.2),

		LockTTL:          parseDuration(k.String("DELIVERY_LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("DELIVERY_LOCK_RETRY_BACKOFF"), "50ms"),
		NotifyEmailFrom:  valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "no-reply@lapak.dev"),
		NotifyEmailOn:    parseBool(valueOrDefault(k.String("NOTIFY_EMAIL_ENABLED"), "true")),

		AdminPerPageDefault: intOrDefault(k.Int("ADMIN_PER_PAGE_DEFAULT"), 50),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// resolveKeyMaterial prefers inline PEM, falling back to reading the file path.
func resolveKeyMaterial(inline, path string) string {
	if strings.TrimSpace(inline) != "" {
		return inline
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return ""
	}
	return string(data)
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
