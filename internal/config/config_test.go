package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setenv(t *testing.T, vars map[string]string) {
	t.Helper()
	base := map[string]string{
		"DATABASE_URL": "postgres://localhost/pricing",
		"REDIS_URL":    "redis://localhost:6379/0",
		"WEBHOOK_URLS": "",
	}
	for k, v := range vars {
		base[k] = v
	}
	for k, v := range base {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setenv(t, map[string]string{
		"QUEUE_CONCURRENCY":    "",
		"PRICE_CACHE_TTL":      " ",
		"OBS_ENABLE_TRACING":   "",
		"CORS_ALLOWED_ORIGINS": " https://shop.test , ,https://admin.test",
	})
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.QueueConcurrency)
	require.Equal(t, 10*time.Minute, cfg.PriceCacheTTL)
	require.Equal(t, 2*time.Second, cfg.QueueBackoffBase)
	require.False(t, cfg.TracingEnabled)
	require.Equal(t, []string{"https://shop.test", "https://admin.test"}, cfg.CORSAllowedOrigins)
	require.Equal(t, ":8080", (&Config{}).HTTPAddr())
	require.Equal(t, 20, cfg.BreakerMinRequests)
	require.Equal(t, 30*time.Second, cfg.BreakerOpenFor)
	require.True(t, cfg.AuditEnabled)
}

func TestLoadOverrides(t *testing.T) {
	setenv(t, map[string]string{
		"PORT":                    ":9090",
		"QUEUE_CONCURRENCY":       "8",
		"QUEUE_BACKOFF_JITTER":    "0.5",
		"MATRIX_MAX_UPLOAD_BYTES": "1024",
		"OBS_ENABLE_PROMETHEUS":   "off",
	})
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, 8, cfg.QueueConcurrency)
	require.InDelta(t, 0.5, cfg.QueueBackoffJitter, 1e-9)
	require.EqualValues(t, 1024, cfg.MatrixMaxUploadBytes)
	require.False(t, cfg.MetricsEnabled)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	setenv(t, map[string]string{
		"QUEUE_BACKOFF_BASE":  "soon",
		"RATE_LIMIT_MAX":      "lots",
		"AUDIT_SAMPLING_RATE": "1.5",
		"AUDIT_ENABLED":       "maybe",
	})
	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{
		`QUEUE_BACKOFF_BASE: invalid duration "soon"`,
		`RATE_LIMIT_MAX: invalid integer "lots"`,
		`AUDIT_SAMPLING_RATE: invalid ratio "1.5"`,
		`AUDIT_ENABLED: invalid boolean "maybe"`,
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestLoadRequiresConnections(t *testing.T) {
	setenv(t, map[string]string{"DATABASE_URL": ""})
	_, err := Load()
	require.EqualError(t, err, "DATABASE_URL is required")

	setenv(t, map[string]string{"REDIS_URL": ""})
	_, err = Load()
	require.EqualError(t, err, "REDIS_URL is required")
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	setenv(t, map[string]string{"WEBHOOK_URLS": "https://hooks.test/prices", "WEBHOOK_SECRET": ""})
	_, err := Load()
	require.EqualError(t, err, "WEBHOOK_SECRET is required when WEBHOOK_URLS is set")

	setenv(t, map[string]string{"WEBHOOK_URLS": "https://hooks.test/prices", "WEBHOOK_SECRET": "s3cret"})
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://hooks.test/prices"}, cfg.WebhookURLs)
	require.Equal(t, 6, cfg.WebhookMaxAttempts)
}
