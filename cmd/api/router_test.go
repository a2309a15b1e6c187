package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/app"
	"github.com/noah-isme/toko-pricing-matrix/internal/audit"
	"github.com/noah-isme/toko-pricing-matrix/internal/config"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

const grid = ",100,200\n50,10.00,12.00\n100,14.00,16.00\n"

type auditLog struct {
	entries []audit.Entry
}

func (a *auditLog) InsertAuditLog(_ context.Context, e audit.Entry) error {
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditLog) ListAuditLogs(context.Context, int, int) ([]audit.Entry, error) {
	return a.entries, nil
}

func newTestRouter(t *testing.T, mutate func(*config.Config)) (http.Handler, *matrix.MemoryStore) {
	h, store, _ := newAuditedRouter(t, mutate)
	return h, store
}

func newAuditedRouter(t *testing.T, mutate func(*config.Config)) (http.Handler, *matrix.MemoryStore, *auditLog) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		AppEnv:               "test",
		QueueRedisPrefix:     "test",
		QueueMaxAttempts:     3,
		QueueDedupTTL:        time.Minute,
		LockTTL:              5 * time.Second,
		LockRetryBackoff:     10 * time.Millisecond,
		PriceCacheTTL:        time.Minute,
		RateLimitWindow:      time.Minute,
		RateLimitMax:         100,
		MatrixMaxUploadBytes: 1 << 20,
		AuditEnabled:         true,
	}
	if mutate != nil {
		mutate(cfg)
	}
	store := matrix.NewMemoryStore()
	deps := app.Wire(cfg, zerolog.Nop(), client, store, matrix.NewMemorySourceStore())
	log := &auditLog{}
	deps.Audit = log
	return newRouter(deps, nil), store, log
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "text/csv")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadIngestAndResolve(t *testing.T) {
	router, store := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPut, "/api/v1/admin/matrices/7/3/1", grid)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/v1/products/7/price?siteId=1&width=120&height=60", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/admin/matrices/7/ingest?siteId=1&sync=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, store.Records(matrix.Scope{ProductID: 7, FieldID: 3, SiteID: 1}), 4)

	rec = do(t, router, http.MethodGet, "/api/v1/products/7/price?siteId=1&width=120&height=60", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data struct {
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Price  string `json:"price"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 200, body.Data.Width)
	require.Equal(t, 100, body.Data.Height)
	require.Equal(t, "16.00", body.Data.Price)

	rec = do(t, router, http.MethodGet, "/api/v1/products/7/bounds?siteId=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"width":100`)
	require.Contains(t, rec.Body.String(), `"width":200`)
}

func TestRouterAppliesSecurityHeadersAndHealth(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(t, router, http.MethodGet, "/api/v1/admin/queue/dlq", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicRoutesAreRateLimited(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *config.Config) { cfg.RateLimitMax = 1 })

	rec := do(t, router, http.MethodGet, "/api/v1/products/7/price?siteId=1&width=10&height=10", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/products/7/price?siteId=1&width=10&height=10", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "RATE_LIMITED")

	rec = do(t, router, http.MethodPut, "/api/v1/admin/matrices/7/3/1", grid)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestUploadBodyLimit(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *config.Config) { cfg.MatrixMaxUploadBytes = 8 })

	rec := do(t, router, http.MethodPut, "/api/v1/admin/matrices/7/3/1", grid)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAdminChangesAreAudited(t *testing.T) {
	router, _, log := newAuditedRouter(t, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/matrices/7/3/1?tier=promotional", strings.NewReader(grid))
	req.Header.Set("X-Filename", "sale.csv")
	req.Header.Set(audit.ActorHeader, "ops")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/v1/admin/matrices/7/3/1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, log.entries, 2)
	upload := log.entries[0]
	require.Equal(t, "matrix.upload", upload.Action)
	require.Equal(t, "ops", upload.Actor)
	require.Equal(t, "7/3/1", upload.ResourceID)
	require.Equal(t, http.StatusAccepted, upload.Status)
	require.Contains(t, string(upload.Metadata), `"filename":"sale.csv"`)
	require.Equal(t, "matrix.clear", log.entries[1].Action)

	rec = do(t, router, http.MethodGet, "/api/v1/admin/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Contains(t, rec.Body.String(), "matrix.upload")
}
