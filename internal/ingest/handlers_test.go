package ingest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/ingest"
	"github.com/noah-isme/toko-pricing-matrix/internal/lock"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

func newAdminRouter(f *fixture, q ingest.Enqueuer, maxUpload int64) http.Handler {
	h := &ingest.AdminHandler{
		Sources:        f.sources,
		Queue:          q,
		Ingestor:       f.ing,
		MaxUploadBytes: maxUpload,
	}
	r := chi.NewRouter()
	r.Put("/admin/matrices/{productID}/{fieldID}/{siteID}", h.Put)
	r.Delete("/admin/matrices/{productID}/{fieldID}/{siteID}", h.Delete)
	r.Get("/admin/matrices/{productID}", h.List)
	r.Post("/admin/matrices/{productID}/ingest", h.Ingest)
	return r
}

func TestAdminPutStoresSourceAndSchedules(t *testing.T) {
	f := newFixture(t)
	q := &captureQueue{}
	router := newAdminRouter(f, q, 0)

	req := httptest.NewRequest(http.MethodPut, "/admin/matrices/7/4/1?tier=promotional", strings.NewReader(",100\n50,8.00\n"))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Filename", "sale.csv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		Data struct {
			Tier  string `json:"tier"`
			Cells int    `json:"cells"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "promotional", body.Data.Tier)
	require.Equal(t, 1, body.Data.Cells)
	require.Len(t, q.tasks, 1)

	src, err := f.sources.GetSource(req.Context(), promoScope)
	require.NoError(t, err)
	require.NotNil(t, src.Asset)
	require.Equal(t, "sale.csv", src.Asset.Filename)
	require.Equal(t, matrix.Promotional, src.Tier)
}

func TestAdminPutRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	q := &captureQueue{}
	router := newAdminRouter(f, q, 0)

	req := httptest.NewRequest(http.MethodPut, "/admin/matrices/7/3/1", strings.NewReader(",100,200\n50,1.00\n"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "MALFORMED_MATRIX")
	require.Contains(t, rec.Body.String(), `"line":2`)
	require.Empty(t, q.tasks)

	src, err := f.sources.GetSource(req.Context(), standardScope)
	require.NoError(t, err)
	require.Nil(t, src)
}

func TestAdminPutRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	router := newAdminRouter(f, &captureQueue{}, 16)

	cases := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{name: "zero field", target: "/admin/matrices/7/0/1", body: ",100\n50,1\n", status: http.StatusBadRequest},
		{name: "unknown tier", target: "/admin/matrices/7/3/1?tier=gold", body: ",100\n50,1\n", status: http.StatusBadRequest},
		{name: "too large", target: "/admin/matrices/7/3/1", body: ",100,200,300\n50,1,2,3\n", status: http.StatusRequestEntityTooLarge},
		{name: "width past store range", target: "/admin/matrices/7/3/1", body: ",3000000000\n5,1\n", status: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, tc.target, strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestAdminEmptyUploadClearsSource(t *testing.T) {
	f := newFixture(t)
	q := &captureQueue{}
	router := newAdminRouter(f, q, 0)
	f.upload(t, standardScope, matrix.Standard, exampleCSV)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/matrices/7/3/1", strings.NewReader("  \n")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/matrices/7/3/1", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.tasks, 2)

	src, err := f.sources.GetSource(t.Context(), standardScope)
	require.NoError(t, err)
	require.Nil(t, src.Asset)
}

func TestAdminSyncIngestAndList(t *testing.T) {
	f := newFixture(t)
	router := newAdminRouter(f, &captureQueue{}, 0)
	f.upload(t, standardScope, matrix.Standard, exampleCSV)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/matrices/7/ingest?siteId=1&sync=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"ingested"`)
	require.Len(t, f.store.Records(standardScope), 4)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/matrices/7/ingest", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/matrices/7?siteId=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"filename":"grid.csv"`)
	require.NotContains(t, rec.Body.String(), "contents")
}

// pausingSources holds the first ListSources caller after it has read, until release is closed.
type pausingSources struct {
	*matrix.MemorySourceStore
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingSources) ListSources(ctx context.Context, productID, siteID int64) ([]matrix.Source, error) {
	out, err := p.MemorySourceStore.ListSources(ctx, productID, siteID)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return out, err
}

func TestAdminPutDuringPassIsIngestedNext(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	paused := &pausingSources{MemorySourceStore: f.sources, read: make(chan struct{}), release: make(chan struct{})}
	f.ing.Sources = paused
	f.ing.Locker = &lock.Locker{R: client, Prefix: "pricing", RetryBackoff: 5 * time.Millisecond, MaxWait: 5 * time.Second}
	f.ing.LockTTL = time.Minute
	q := &captureQueue{}
	router := newAdminRouter(f, q, 0)
	f.upload(t, standardScope, matrix.Standard, exampleCSV)

	passDone := make(chan error, 1)
	go func() {
		_, err := f.ing.IngestProduct(context.Background(), 7, 1)
		passDone <- err
	}()
	<-paused.read

	putDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/matrices/7/3/1", strings.NewReader(",100\n50,99.00\n")))
		putDone <- rec
	}()
	select {
	case rec := <-putDone:
		t.Fatalf("upload stored while the pass held the scope: status %d", rec.Code)
	case <-time.After(50 * time.Millisecond):
	}

	close(paused.release)
	require.NoError(t, <-passDone)
	rec := <-putDone
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.tasks, 1)

	results, err := f.ing.IngestProduct(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeIngested, results[0].Outcome)
	records := f.store.Records(standardScope)
	require.Len(t, records, 1)
	require.Equal(t, "99.00", records[0].Price.StringFixed(matrix.PricePlaces))
}

func TestAdminPutReportsBusyScope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	f.ing.Locker = &lock.Locker{R: client, Prefix: "pricing", RetryBackoff: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}
	q := &captureQueue{}
	router := newAdminRouter(f, q, 0)
	require.NoError(t, mr.Set("pricing:lock:"+ingest.LockKey(7, 1), "worker"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/matrices/7/3/1", strings.NewReader(exampleCSV)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "INGESTION_BUSY")
	require.Empty(t, q.tasks)

	src, err := f.sources.GetSource(context.Background(), standardScope)
	require.NoError(t, err)
	require.Nil(t, src)
}
