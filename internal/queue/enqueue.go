package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts = 10
	defaultDedupTTL    = 24 * time.Hour
)

// Enqueuer adds tasks to the per-kind ready sets.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules t after t.Delay. While a task with the same idempotency key is pending
// (within DedupTTL) further enqueues are dropped silently.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	keys := keyspace{prefix: e.Prefix, kind: kind}
	msg := message{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     max(t.Attempt, 0),
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, defaultMaxAttempts),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	raw, err := msg.encode()
	if err != nil {
		return err
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = defaultDedupTTL
		}
		err := e.R.SetArgs(ctx, keys.dedup(msg.Key), "1", redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	var depth *redis.IntCmd
	_, err = e.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw})
		depth = p.ZCard(ctx, keys.ready())
		return nil
	})
	if err != nil {
		if msg.Key != "" {
			_ = e.R.Del(context.WithoutCancel(ctx), keys.dedup(msg.Key)).Err()
		}
		return err
	}
	setDepth(kind, depth.Val())
	return nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
