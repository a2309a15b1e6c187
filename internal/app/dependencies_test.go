package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/config"
	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/ingest"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

func wireForTest(t *testing.T, cfg *config.Config) (*Dependencies, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Wire(cfg, zerolog.Nop(), client, matrix.NewMemoryStore(), matrix.NewMemorySourceStore()), client
}

func TestWireSchedulesWebhooksForPriceChanges(t *testing.T) {
	cfg := &config.Config{
		QueueRedisPrefix:   "test",
		QueueMaxAttempts:   3,
		WebhookURLs:        []string{"https://hooks.test/a", "https://hooks.test/b"},
		WebhookSecret:      "s3cret",
		WebhookMaxAttempts: 2,
	}
	d, client := wireForTest(t, cfg)
	ctx := context.Background()

	_, err := d.Events.Emit(ctx, events.TopicMatrixIngested, 7, 1, map[string]any{"cells": 4})
	require.NoError(t, err)
	depth, err := client.ZCard(ctx, "test:queue:matrix:webhook").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)

	_, err = d.Events.Emit(ctx, events.TopicMatrixIngestFailed, 7, 1, nil)
	require.NoError(t, err)
	depth, err = client.ZCard(ctx, "test:queue:matrix:webhook").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)
}

func TestWireWithoutWebhooks(t *testing.T) {
	d, client := wireForTest(t, &config.Config{QueueRedisPrefix: "test", QueueMaxAttempts: 3})
	ctx := context.Background()

	_, err := d.Events.Emit(ctx, events.TopicMatrixRemoved, 7, 1, nil)
	require.NoError(t, err)
	keys, err := client.Keys(ctx, "test:queue:*").Result()
	require.NoError(t, err)
	require.Empty(t, keys)
	require.Len(t, d.Events.Notifiers, 2)
}

type unavailableEventLog struct{}

func (unavailableEventLog) InsertEvent(context.Context, events.Event) error {
	return errors.New("event log unavailable")
}

func TestIngestInvalidatesCacheWithoutEventLog(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tick := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	store := matrix.NewMemoryStore()
	store.Now = clock
	sources := matrix.NewMemorySourceStore()
	sources.Now = clock

	d := Wire(&config.Config{QueueRedisPrefix: "test", PriceCacheTTL: time.Minute}, zerolog.Nop(), client, store, sources)
	d.Events.Store = unavailableEventLog{}
	ingestor, resolver := d.Ingestor(), d.Resolver()
	ctx := context.Background()
	scope := matrix.Scope{ProductID: 7, FieldID: 3, SiteID: 1}
	width, height := 60, 40

	publish := func(grid string) {
		t.Helper()
		require.NoError(t, sources.PutSource(ctx, matrix.Source{
			Scope: scope,
			Asset: &matrix.Asset{Filename: "grid.csv", ContentType: "text/csv", Contents: []byte(grid)},
		}))
		results, err := ingestor.IngestProduct(ctx, 7, 1)
		require.NoError(t, err)
		require.Equal(t, ingest.OutcomeIngested, results[0].Outcome)
	}

	publish(",100\n50,10.00\n")
	rec, err := resolver.ResolveStandard(ctx, scope, &width, &height)
	require.NoError(t, err)
	require.Equal(t, "10.00", rec.Price.StringFixed(2))

	publish(",100\n50,11.00\n")
	rec, err = resolver.ResolveStandard(ctx, scope, &width, &height)
	require.NoError(t, err)
	require.Equal(t, "11.00", rec.Price.StringFixed(2))
}

func TestAuditRecorderDisabledWithoutStore(t *testing.T) {
	d, _ := wireForTest(t, &config.Config{AuditEnabled: true})
	require.False(t, d.AuditRecorder().Service.Enabled)
}

func TestDispatcherUsesConfiguredEndpoints(t *testing.T) {
	d, _ := wireForTest(t, &config.Config{
		WebhookURLs:      []string{"https://hooks.test/a"},
		WebhookSecret:    "s3cret",
		WebhookTimeout:   time.Second,
		WebhookReplayTTL: time.Hour,
	})
	disp := d.Dispatcher()
	require.Len(t, disp.Endpoints, 1)
	require.Equal(t, "s3cret", disp.Endpoints[0].Secret)
	require.Equal(t, time.Hour, disp.ReplayTTL)
}

func TestCloseToleratesPartialWiring(t *testing.T) {
	require.NoError(t, (&Dependencies{}).Close())
}
