package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-pricing-matrix/internal/app"
	"github.com/noah-isme/toko-pricing-matrix/internal/config"
	"github.com/noah-isme/toko-pricing-matrix/internal/ingest"
	"github.com/noah-isme/toko-pricing-matrix/internal/notify"
	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
)

const serviceName = "pricing-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg, serviceName).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush := app.InitObservability(ctx, cfg, logger, serviceName)
	defer flush()

	deps, err := app.Connect(ctx, cfg, logger, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	ingestWorker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              ingest.TaskKind,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.QueueBackoffJitter,
		Store:             deps.QueueStore,
		Logger:            &logger,
		Handler:           deps.Ingestor().Handler(),
		ReleaseOnClaim:    true,
	}

	workers := []queue.Worker{ingestWorker}
	if len(cfg.WebhookURLs) > 0 {
		workers = append(workers, queue.Worker{
			R:                 deps.Redis,
			Prefix:            cfg.QueueRedisPrefix,
			Kind:              notify.TaskKind,
			Concurrency:       cfg.WebhookConcurrency,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			RetryBase:         cfg.QueueBackoffBase,
			RetryJitter:       cfg.QueueBackoffJitter,
			Store:             deps.QueueStore,
			Logger:            &logger,
			Handler:           deps.Dispatcher().Handler(),
		})
	}

	logger.Info().Int("queues", len(workers)).Int("concurrency", cfg.QueueConcurrency).Msg("worker starting")
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}
