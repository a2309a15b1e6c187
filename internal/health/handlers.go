package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-pricing-matrix/internal/common"
)

var (
	draining         atomic.Bool
	errNotConfigured = errors.New("not configured")
)

// SetReady flips readiness. The API clears it when a graceful shutdown starts so load balancers
// stop routing price lookups before connections drain.
func SetReady(v bool) {
	draining.Store(!v)
}

// Checker probes the dependencies a price lookup needs.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Probe checks the matrix database and the Redis instance shared by the queue, lock and cache.
type Probe struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// PingDB pings Postgres.
func (p Probe) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.Pool == nil {
		return errNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Pool.Ping(ctx)
}

// PingRedis pings Redis.
func (p Probe) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler serves the liveness and readiness probes.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live answers 200 for as long as the process runs, draining included.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Ready answers 200 when Postgres and Redis both respond. Both are probed concurrently so the
// probe takes as long as the slower timeout, not their sum.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}

	var dbErr, redisErr error
	var g errgroup.Group
	g.Go(func() error {
		dbErr = h.Checker.PingDB(r.Context(), orDefault(h.DBTimeout, 500*time.Millisecond))
		return nil
	})
	g.Go(func() error {
		redisErr = h.Checker.PingRedis(r.Context(), orDefault(h.RedisTimeout, 300*time.Millisecond))
		return nil
	})
	_ = g.Wait()

	status := map[string]string{"db": describe(dbErr), "redis": describe(redisErr)}
	code := http.StatusOK
	if dbErr != nil || redisErr != nil {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func describe(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
