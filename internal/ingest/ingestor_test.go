package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/ingest"
	"github.com/noah-isme/toko-pricing-matrix/internal/lock"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

const exampleCSV = ",100,200\n50,10.00,12.00\n100,15.00,18.00\n"

var (
	standardScope = matrix.Scope{ProductID: 7, FieldID: 3, SiteID: 1}
	promoScope    = matrix.Scope{ProductID: 7, FieldID: 4, SiteID: 1}
	uploadedAt    = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) Notify(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, ev.Topic)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

type fixture struct {
	store   *matrix.MemoryStore
	sources *matrix.MemorySourceStore
	events  *recorder
	ing     *ingest.Ingestor

	mu    sync.Mutex
	clock time.Time
}

// newFixture wires memory stores that share one clock, as cells and sources share the database
// clock in production.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   matrix.NewMemoryStore(),
		sources: matrix.NewMemorySourceStore(),
		events:  &recorder{},
		clock:   uploadedAt,
	}
	f.store.Now = f.now
	f.sources.Now = f.now
	f.ing = &ingest.Ingestor{
		Store:   f.store,
		Sources: f.sources,
		Events:  &events.Bus{Notifiers: []events.Notifier{f.events}},
	}
	return f
}

// now ticks a millisecond per read so that stamps are distinct and ordered.
func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

// upload stores a source at the current time and lets a second pass.
func (f *fixture) upload(t *testing.T, scope matrix.Scope, tier matrix.Tier, contents string) {
	t.Helper()
	require.NoError(t, f.sources.PutSource(context.Background(), matrix.Source{
		Scope: scope,
		Tier:  tier,
		Asset: &matrix.Asset{Filename: "grid.csv", ContentType: "text/csv", Contents: []byte(contents)},
	}))
	f.advance(time.Second)
}

func TestIngestProductLoadsEveryField(t *testing.T) {
	f := newFixture(t)
	f.upload(t, standardScope, matrix.Standard, exampleCSV)
	f.upload(t, promoScope, matrix.Promotional, ",100\n50,8.00\n")

	results, err := f.ing.IngestProduct(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, ingest.OutcomeIngested, results[0].Outcome)
	require.Equal(t, 4, results[0].Cells)
	require.Equal(t, 1, results[1].Cells)

	require.Len(t, f.store.Records(standardScope), 4)
	promo := f.store.Records(promoScope)
	require.Len(t, promo, 1)
	require.Equal(t, matrix.Promotional, promo[0].Tier)
	require.Equal(t, []string{events.TopicMatrixIngested, events.TopicMatrixIngested}, f.events.seen())
}

func TestIngestSkipsWhenNotStale(t *testing.T) {
	f := newFixture(t)
	f.upload(t, standardScope, matrix.Standard, exampleCSV)
	ctx := context.Background()

	_, err := f.ing.IngestProduct(ctx, 7, 1)
	require.NoError(t, err)
	before := f.store.Records(standardScope)

	f.advance(time.Hour)
	results, err := f.ing.IngestProduct(ctx, 7, 1)
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeSkipped, results[0].Outcome)
	require.Equal(t, before, f.store.Records(standardScope), "store must not be touched")

	// a newer upload forces a full replace
	f.upload(t, standardScope, matrix.Standard, ",300\n300,30.00\n")
	results, err = f.ing.IngestProduct(ctx, 7, 1)
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeIngested, results[0].Outcome)
	require.Len(t, f.store.Records(standardScope), 1)
}

func TestIngestRemovedUploadClearsScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, standardScope, matrix.Standard, exampleCSV)
	_, err := f.ing.IngestProduct(ctx, 7, 1)
	require.NoError(t, err)

	require.NoError(t, f.sources.ClearSource(ctx, standardScope))
	res, err := f.ing.IngestScope(ctx, standardScope)
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeRemoved, res.Outcome)

	has, err := f.store.HasAny(ctx, matrix.ForSite(7, 1))
	require.NoError(t, err)
	require.False(t, has)
	require.Contains(t, f.events.seen(), events.TopicMatrixRemoved)
}

func TestIngestMalformedKeepsPreviousRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, standardScope, matrix.Standard, exampleCSV)
	_, err := f.ing.IngestProduct(ctx, 7, 1)
	require.NoError(t, err)

	f.upload(t, standardScope, matrix.Standard, ",100,200\n50,10.00\n")
	res, err := f.ing.IngestScope(ctx, standardScope)
	require.ErrorIs(t, err, matrix.ErrMalformedMatrix)
	require.Equal(t, ingest.OutcomeFailed, res.Outcome)
	require.Len(t, f.store.Records(standardScope), 4)
	require.Contains(t, f.events.seen(), events.TopicMatrixIngestFailed)
}

func TestIngestRejectsIncompleteIDs(t *testing.T) {
	f := newFixture(t)
	_, err := f.ing.IngestProduct(context.Background(), 7, 0)
	require.ErrorIs(t, err, matrix.ErrInvalidScope)
}

func TestStalenessChecker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checker := ingest.StalenessChecker{Store: f.store}
	asset := &matrix.Asset{ModifiedAt: uploadedAt}

	stale, err := checker.IsStale(ctx, asset, standardScope)
	require.NoError(t, err)
	require.True(t, stale, "empty scope is stale")

	f.upload(t, standardScope, matrix.Standard, exampleCSV)
	_, err = f.ing.IngestScope(ctx, standardScope)
	require.NoError(t, err)

	stale, err = checker.IsStale(ctx, asset, standardScope)
	require.NoError(t, err)
	require.False(t, stale)

	stored := f.store.Records(standardScope)
	stale, err = checker.IsStale(ctx, &matrix.Asset{ModifiedAt: stored[0].CreatedAt}, standardScope)
	require.NoError(t, err)
	require.True(t, stale, "records must be strictly newer")

	stale, err = checker.IsStale(ctx, nil, standardScope)
	require.NoError(t, err)
	require.True(t, stale)
}

func TestIngestHoldsProductLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	f.upload(t, standardScope, matrix.Standard, exampleCSV)
	f.ing.Locker = &lock.Locker{R: client, Prefix: "pricing", RetryBackoff: 5 * time.Millisecond, MaxWait: 50 * time.Millisecond}
	f.ing.LockTTL = time.Minute

	require.NoError(t, client.Set(context.Background(), "pricing:lock:"+ingest.LockKey(7, 1), "other", time.Minute).Err())
	_, err = f.ing.IngestProduct(context.Background(), 7, 1)
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.Empty(t, f.store.Records(standardScope))

	mr.Del("pricing:lock:" + ingest.LockKey(7, 1))
	_, err = f.ing.IngestProduct(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Len(t, f.store.Records(standardScope), 4)
	require.False(t, mr.Exists("pricing:lock:"+ingest.LockKey(7, 1)))
}
