package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the process configuration shared by the API and the worker.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	QueueRedisPrefix       string
	QueueConcurrency       int
	QueueMaxAttempts       int
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration
	QueueBackoffJitter     float64
	QueueDedupTTL          time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	DBMaxConns          int
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	PriceCacheTTL        time.Duration
	RateLimitWindow      time.Duration
	RateLimitMax         int
	MatrixMaxUploadBytes int64

	AuditEnabled      bool
	AuditSamplingRate float64

	WebhookURLs             []string
	WebhookSecret           string
	WebhookTimeout          time.Duration
	WebhookMaxAttempts      int
	WebhookRetryBase        time.Duration
	WebhookReplayTTL        time.Duration
	WebhookAllowInsecureTLS bool
	WebhookConcurrency      int

	LogFormat        string
	LogLevel         string
	LogFile          string
	MetricsNamespace string
	MetricsEnabled   bool
	TracingEnabled   bool
	OTLPEndpoint     string
	TracingSampling  float64
}

// Load reads the process configuration from the environment, after applying an optional .env
// file. Malformed values are errors rather than silent defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	provider := env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		return key, strings.TrimSpace(value)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	r := &reader{k: k}

	cfg := &Config{
		AppEnv:             r.str("APP_ENV", "development"),
		Port:               r.str("PORT", "8080"),
		DatabaseURL:        r.required("DATABASE_URL"),
		RedisURL:           r.required("REDIS_URL"),
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),

		QueueRedisPrefix:       r.str("QUEUE_REDIS_PREFIX", "pricing"),
		QueueConcurrency:       max(r.int("QUEUE_CONCURRENCY", 4), 1),
		QueueMaxAttempts:       r.int("QUEUE_MAX_ATTEMPTS", 5),
		QueueVisibilityTimeout: r.duration("QUEUE_VISIBILITY_TIMEOUT", time.Minute),
		QueueBackoffBase:       r.duration("QUEUE_BACKOFF_BASE", 2*time.Second),
		QueueBackoffJitter:     r.ratio("QUEUE_BACKOFF_JITTER", 0.2),
		QueueDedupTTL:          r.duration("QUEUE_DEDUP_TTL", 30*time.Second),

		LockTTL:          r.duration("LOCK_TTL", 30*time.Second),
		LockRetryBackoff: r.duration("LOCK_RETRY_BACKOFF", 100*time.Millisecond),

		DBMaxConns:          r.int("DB_MAX_CONNS", 0),
		BreakerMinRequests:  r.int("CIRCUIT_MATRIX_MIN_REQUESTS", 20),
		BreakerFailureRatio: r.ratio("CIRCUIT_MATRIX_FAILURE_RATIO", 0.5),
		BreakerOpenFor:      r.duration("CIRCUIT_MATRIX_OPEN_FOR", 30*time.Second),

		PriceCacheTTL:        r.duration("PRICE_CACHE_TTL", 10*time.Minute),
		RateLimitWindow:      r.duration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:         r.int("RATE_LIMIT_MAX", 120),
		MatrixMaxUploadBytes: int64(r.int("MATRIX_MAX_UPLOAD_BYTES", 5<<20)),

		AuditEnabled:      r.bool("AUDIT_ENABLED", true),
		AuditSamplingRate: r.ratio("AUDIT_SAMPLING_RATE", 1),

		WebhookURLs:             r.list("WEBHOOK_URLS"),
		WebhookSecret:           r.str("WEBHOOK_SECRET", ""),
		WebhookTimeout:          r.duration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxAttempts:      r.int("WEBHOOK_MAX_ATTEMPTS", 6),
		WebhookRetryBase:        r.duration("WEBHOOK_RETRY_BASE", 200*time.Millisecond),
		WebhookReplayTTL:        r.duration("WEBHOOK_REPLAY_TTL", 24*time.Hour),
		WebhookAllowInsecureTLS: r.bool("WEBHOOK_ALLOW_INSECURE_TLS", false),
		WebhookConcurrency:      r.int("WEBHOOK_CONCURRENCY", 2),

		LogFormat:        r.str("OBS_LOG_FORMAT", "json"),
		LogLevel:         r.str("OBS_LOG_LEVEL", "info"),
		LogFile:          r.str("OBS_LOG_FILE", ""),
		MetricsNamespace: r.str("OBS_METRICS_NAMESPACE", "pricing"),
		MetricsEnabled:   r.bool("OBS_ENABLE_PROMETHEUS", true),
		TracingEnabled:   r.bool("OBS_ENABLE_TRACING", false),
		OTLPEndpoint:     r.str("OBS_OTLP_ENDPOINT", ""),
		TracingSampling:  r.ratio("OBS_TRACING_SAMPLING_RATIO", 1),
	}

	if cfg.QueueMaxAttempts <= 0 {
		r.fail("QUEUE_MAX_ATTEMPTS must be positive")
	}
	if len(cfg.WebhookURLs) > 0 && cfg.WebhookSecret == "" {
		r.fail("WEBHOOK_SECRET is required when WEBHOOK_URLS is set")
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddr is Port as a listen address.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	switch {
	case port == "":
		return ":8080"
	case strings.HasPrefix(port, ":"):
		return port
	default:
		return ":" + port
	}
}

// reader pulls typed values out of koanf and collects every malformed one.
type reader struct {
	k    *koanf.Koanf
	errs []error
}

func (r *reader) fail(msg string) {
	r.errs = append(r.errs, errors.New(msg))
}

func (r *reader) invalid(key, kind string) {
	r.errs = append(r.errs, fmt.Errorf("%s: invalid %s %q", key, kind, r.k.String(key)))
}

func (r *reader) str(key, def string) string {
	if !r.k.Exists(key) {
		return def
	}
	return r.k.String(key)
}

func (r *reader) required(key string) string {
	v := r.str(key, "")
	if v == "" {
		r.fail(key + " is required")
	}
	return v
}

// list splits a comma separated value, dropping blank entries.
func (r *reader) list(key string) []string {
	var out []string
	for part := range strings.SplitSeq(r.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) int(key string, def int) int {
	if !r.k.Exists(key) {
		return def
	}
	v, err := strconv.Atoi(r.k.String(key))
	if err != nil {
		r.invalid(key, "integer")
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	if !r.k.Exists(key) {
		return def
	}
	v, err := time.ParseDuration(r.k.String(key))
	if err != nil || v < 0 {
		r.invalid(key, "duration")
		return def
	}
	return v
}

// ratio parses a float in [0, 1].
func (r *reader) ratio(key string, def float64) float64 {
	if !r.k.Exists(key) {
		return def
	}
	v, err := strconv.ParseFloat(r.k.String(key), 64)
	if err != nil || v < 0 || v > 1 {
		r.invalid(key, "ratio")
		return def
	}
	return v
}

func (r *reader) bool(key string, def bool) bool {
	if !r.k.Exists(key) {
		return def
	}
	switch strings.ToLower(r.k.String(key)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	r.invalid(key, "boolean")
	return def
}
