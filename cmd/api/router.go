package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/toko-pricing-matrix/internal/app"
	"github.com/noah-isme/toko-pricing-matrix/internal/audit"
	"github.com/noah-isme/toko-pricing-matrix/internal/health"
	"github.com/noah-isme/toko-pricing-matrix/internal/ingest"
	"github.com/noah-isme/toko-pricing-matrix/internal/notify"
	"github.com/noah-isme/toko-pricing-matrix/internal/obs"
	"github.com/noah-isme/toko-pricing-matrix/internal/pricing"
	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
	"github.com/noah-isme/toko-pricing-matrix/internal/ratelimit"
	"github.com/noah-isme/toko-pricing-matrix/internal/security"
)

func newRouter(d *app.Dependencies, metrics *obs.HTTPMetrics) http.Handler {
	cfg := d.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.TracingEnabled {
		r.Use(obs.Tracing(nil))
	}
	if metrics != nil {
		r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger, Skip: obs.SkipPaths("/health")}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Disposition", "X-Filename"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	headers := security.Headers{}
	if cfg.AppEnv == "production" {
		headers.HSTS = 365 * 24 * time.Hour
	}
	r.Use(headers.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.Probe{Pool: d.DB, Redis: d.Redis},
		DBTimeout:    2 * time.Second,
		RedisTimeout: time.Second,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	resolver := d.Resolver()
	priceHandler := pricing.NewHandler(pricing.HandlerConfig{
		Resolver:  resolver,
		Validator: d.Validator,
		Logger:    d.Logger.With().Str("component", "pricing").Logger(),
	})
	matrixAdmin := &ingest.AdminHandler{
		Sources:        d.Sources,
		Queue:          d.Queue,
		Ingestor:       d.Ingestor(),
		MaxUploadBytes: cfg.MatrixMaxUploadBytes,
		Logger:         d.Logger.With().Str("component", "matrix_admin").Logger(),
	}
	queueAdmin := &queue.AdminHandler{
		Store:             d.QueueStore,
		Queue:             d.Queue,
		Logger:            d.Logger.With().Str("component", "queue_admin").Logger(),
		Kinds:             []string{ingest.TaskKind, notify.TaskKind},
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	}
	limit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: d.Redis, Prefix: cfg.QueueRedisPrefix + ":rl:"},
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP("price"), Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		OnError: func(err error) {
			d.Logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	recorder := d.AuditRecorder()
	scopeIDs := []string{"productID", "fieldID", "siteID"}
	uploadMeta := func(req *http.Request, _ int) map[string]any {
		return map[string]any{
			"tier":        req.URL.Query().Get("tier"),
			"filename":    req.Header.Get("X-Filename"),
			"contentType": req.Header.Get("Content-Type"),
			"bytes":       req.ContentLength,
		}
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Group(func(public chi.Router) {
			public.Use(limit.Middleware)
			public.Get("/products/{productID}/price", priceHandler.Price)
			public.Get("/products/{productID}/bounds", priceHandler.Bounds)
			public.Post("/line-items/price", priceHandler.PriceLineItem)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(security.NoStore)
			admin.Route("/matrices/{productID}", func(m chi.Router) {
				m.Get("/", matrixAdmin.List)
				m.With(recorder.Middleware(audit.HTTPConfig{Action: "matrix.ingest", Resource: "matrix", IDParams: []string{"productID"}})).
					Post("/ingest", matrixAdmin.Ingest)
				m.With(
					security.BodyLimit{Max: cfg.MatrixMaxUploadBytes}.Middleware,
					recorder.Middleware(audit.HTTPConfig{Action: "matrix.upload", Resource: "matrix", IDParams: scopeIDs, MetadataFunc: uploadMeta}),
				).Put("/{fieldID}/{siteID}", matrixAdmin.Put)
				m.With(recorder.Middleware(audit.HTTPConfig{Action: "matrix.clear", Resource: "matrix", IDParams: scopeIDs})).
					Delete("/{fieldID}/{siteID}", matrixAdmin.Delete)
			})
			if d.Audit != nil {
				admin.Get("/audit", audit.Handler{Store: d.Audit}.List)
			}
			if d.QueueStore != nil {
				admin.Get("/queue/dlq", queueAdmin.ListDLQ)
				admin.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
				admin.Get("/queue/stats", queueAdmin.Stats)
			}
		})
	})

	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
