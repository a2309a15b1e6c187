package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing-matrix/internal/audit"
	"github.com/noah-isme/toko-pricing-matrix/internal/config"
	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/ingest"
	"github.com/noah-isme/toko-pricing-matrix/internal/lock"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/notify"
	"github.com/noah-isme/toko-pricing-matrix/internal/obs"
	"github.com/noah-isme/toko-pricing-matrix/internal/pricing"
	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
	"github.com/noah-isme/toko-pricing-matrix/internal/repo"
	"github.com/noah-isme/toko-pricing-matrix/internal/resilience"
)

// Dependencies enumerates the services shared by the API and the worker.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Validator *validator.Validate

	Store      matrix.Store
	Sources    matrix.SourceStore
	Cache      *pricing.Cache
	Events     *events.Bus
	Queue      queue.Enqueuer
	QueueStore queue.Store
	Locker     *lock.Locker
	Audit      audit.Store
}

// Connect opens Postgres and Redis and assembles the matrix services on top of them.
func Connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger, service string) (*Dependencies, error) {
	pool, err := repo.NewPool(ctx, repo.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		ApplicationName: service,
		MaxConns:        int32(cfg.DBMaxConns),
	})
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("matrix-store").
		WithLogger(logger)
	d := Wire(cfg, logger, rdb, repo.GuardedStore{Store: repo.NewMatrixStore(pool), Breaker: breaker}, repo.NewSourceStore(pool))
	d.DB = pool
	d.QueueStore = queue.NewStore(pool)
	d.Events.Store = repo.NewEventStore(pool)
	d.Audit = repo.NewAuditStore(pool)
	return d, nil
}

// Wire assembles the services over already opened stores. Tests pass in-memory stores.
func Wire(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client, store matrix.Store, sources matrix.SourceStore) *Dependencies {
	cache := pricing.NewCache(rdb, cfg.PriceCacheTTL, cfg.QueueRedisPrefix)
	enqueuer := queue.Enqueuer{
		R:           rdb,
		Prefix:      cfg.QueueRedisPrefix,
		DedupTTL:    cfg.QueueDedupTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
	}
	notifiers := []events.Notifier{
		events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()},
		cache.Notifier(),
	}
	if len(cfg.WebhookURLs) > 0 {
		notifiers = append(notifiers, notify.Scheduler{
			Endpoints:   notify.EndpointsFrom(cfg.WebhookURLs, cfg.WebhookSecret),
			Queue:       enqueuer,
			MaxAttempts: cfg.WebhookMaxAttempts,
		})
	}
	return &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Redis:     rdb,
		Validator: validator.New(validator.WithRequiredStructEnabled()),
		Store:     store,
		Sources:   sources,
		Cache:     cache,
		Events:    &events.Bus{Notifiers: notifiers},
		Queue:     enqueuer,
		Locker:    &lock.Locker{R: rdb, Prefix: cfg.QueueRedisPrefix, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockTTL},
	}
}

// Ingestor builds the ingestion pipeline over the shared stores.
func (d *Dependencies) Ingestor() *ingest.Ingestor {
	logger := d.Logger.With().Str("component", "ingest").Logger()
	return &ingest.Ingestor{
		Store:   d.Store,
		Sources: d.Sources,
		Locker:  d.Locker,
		LockTTL: d.Config.LockTTL,
		Events:  d.Events,
		Logger:  &logger,
	}
}

// AuditRecorder records admin changes. It is disabled when no audit store is wired.
func (d *Dependencies) AuditRecorder() audit.HTTPRecorder {
	return audit.HTTPRecorder{
		Service: audit.Service{
			Store:        d.Audit,
			Enabled:      d.Config.AuditEnabled && d.Audit != nil,
			SamplingRate: d.Config.AuditSamplingRate,
		},
		OnError: func(err error) {
			d.Logger.Error().Err(err).Msg("record audit log")
		},
	}
}

// Dispatcher builds the webhook dispatcher used by the worker.
func (d *Dependencies) Dispatcher() *notify.Dispatcher {
	cfg := d.Config
	logger := d.Logger.With().Str("component", "webhooks").Logger()
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("webhook-delivery").
		WithLogger(logger)
	return &notify.Dispatcher{
		Endpoints: notify.EndpointsFrom(cfg.WebhookURLs, cfg.WebhookSecret),
		HTTP: resilience.HTTPClient{
			Client:        notify.HTTPClient(cfg.WebhookTimeout, cfg.WebhookAllowInsecureTLS),
			Breaker:       breaker,
			BaseBackoff:   cfg.WebhookRetryBase,
			MaxAttempts:   3,
			Jitter:        cfg.QueueBackoffJitter,
			Timeout:       cfg.WebhookTimeout,
			MaxRetryAfter: 30 * time.Second,
		},
		Replay:    notify.RedisReplayProtector{Client: d.Redis, Prefix: cfg.QueueRedisPrefix + ":"},
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    &logger,
	}
}

// Resolver builds a cached resolver over the shared store.
func (d *Dependencies) Resolver() *pricing.Resolver {
	return pricing.NewResolver(d.Store, d.Cache)
}

// Close releases connections. It is safe to call on partially wired dependencies.
func (d *Dependencies) Close() error {
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from config. OBS_LOG_FILE switches output to a rotated
// file.
func NewLogger(cfg *config.Config, service string) zerolog.Logger {
	logger := obs.NewLogger(obs.LogConfig{Format: cfg.LogFormat, Level: cfg.LogLevel, File: cfg.LogFile})
	return logger.With().Str("service", service).Str("env", cfg.AppEnv).Logger()
}

// InitObservability registers metrics and, when enabled, the tracer provider. The returned
// function flushes the tracer.
func InitObservability(ctx context.Context, cfg *config.Config, logger zerolog.Logger, service string) func() {
	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		queue.MustRegisterMetrics(cfg.MetricsNamespace, nil)
	}
	if !cfg.TracingEnabled {
		return func() {}
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   service,
		Endpoint:      cfg.OTLPEndpoint,
		SamplingRatio: cfg.TracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		cfg.TracingEnabled = false
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}
}
