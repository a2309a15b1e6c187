package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-pricing-matrix/internal/resilience"
)

const (
	idlePoll    = 100 * time.Millisecond
	reapEvery   = time.Second
	lostAttempt = "visibility timeout expired"
)

// claimScript moves the earliest due task from the ready set (KEYS[1]) into the processing set
// (KEYS[2]) scored by its visibility deadline.
var claimScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #due == 0 then
  return false
end
redis.call("ZREM", KEYS[1], due[1])
redis.call("ZADD", KEYS[2], ARGV[2], due[1])
return due[1]`)

// Worker consumes one task kind with Concurrency pollers. A claimed task stays in the processing
// set until it is acked, retried or dead-lettered; if the worker dies first the reaper puts it
// back once VisibilityTimeout has passed.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler invocation. Zero means VisibilityTimeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	Store        Store
	Logger       *zerolog.Logger
	// ReleaseOnClaim frees the idempotency key once a task leaves the ready set, so dedup only
	// coalesces tasks that are still waiting.
	ReleaseOnClaim bool
}

// run holds the per-Run settings with defaults applied.
type run struct {
	keys       keyspace
	visibility time.Duration
	soft       time.Duration
	retryBase  time.Duration
}

// Run blocks until ctx is cancelled, then waits for in-flight handlers. It only returns an error
// for a broken configuration or a Redis failure.
func (w Worker) Run(ctx context.Context) error {
	switch {
	case w.R == nil:
		return errors.New("queue: worker redis client not configured")
	case w.Handler == nil:
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	rt := run{
		keys:       keyspace{prefix: w.Prefix, kind: kind},
		visibility: w.VisibilityTimeout,
		retryBase:  w.RetryBase,
	}
	if rt.visibility <= 0 {
		rt.visibility = 30 * time.Second
	}
	rt.soft = w.SoftDeadline
	if rt.soft <= 0 || rt.soft > rt.visibility {
		rt.soft = rt.visibility
	}
	if rt.retryBase <= 0 {
		rt.retryBase = 200 * time.Millisecond
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.reap(gctx, rt) })
	for range max(w.Concurrency, 1) {
		g.Go(func() error { return w.poll(gctx, rt) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w Worker) poll(ctx context.Context, rt run) error {
	for ctx.Err() == nil {
		raw, err := w.claim(ctx, rt)
		if errors.Is(err, redis.Nil) {
			sleepCtx(ctx, idlePoll)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.process(ctx, rt, raw)
	}
	return nil
}

func (w Worker) claim(ctx context.Context, rt run) (string, error) {
	now := time.Now()
	deadline := now.Add(rt.visibility).UnixNano()
	return claimScript.Run(ctx, w.R, []string{rt.keys.ready(), rt.keys.processing()},
		now.UnixNano(), deadline).Text()
}

func (w Worker) process(ctx context.Context, rt run, raw string) {
	bg := context.WithoutCancel(ctx)
	msg, err := decodeMessage(raw)
	if err != nil {
		w.logger().Error().Err(err).Str("kind", rt.keys.kind).Msg("queue_decode_failed")
		_ = w.R.ZRem(bg, rt.keys.processing(), raw).Err()
		return
	}
	if w.ReleaseOnClaim && msg.Key != "" {
		_ = w.R.Del(ctx, rt.keys.dedup(msg.Key)).Err()
	}

	attempt := msg.Attempt + 1
	jobCtx, cancel := context.WithTimeout(ctx, rt.soft)
	err = w.Handler(jobCtx, Task{
		Kind:           rt.keys.kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        attempt,
	})
	cancel()

	msg.Attempt = attempt
	switch {
	case err == nil:
		w.ack(bg, rt, raw, msg)
	case errors.Is(err, ErrPermanent) || msg.exhausted(attempt):
		_ = w.R.ZRem(bg, rt.keys.processing(), raw).Err()
		w.deadLetter(bg, rt, msg, err)
	default:
		w.retry(bg, rt, raw, msg, err)
	}
}

func (w Worker) ack(ctx context.Context, rt run, raw string, msg message) {
	_, _ = w.R.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, rt.keys.processing(), raw)
		if msg.Key != "" {
			p.Del(ctx, rt.keys.dedup(msg.Key))
		}
		return nil
	})
	countProcessed(msg.Kind, "ok")
}

// retry swaps the claimed member for a delayed copy carrying the spent attempt.
func (w Worker) retry(ctx context.Context, rt run, raw string, msg message, cause error) {
	delay := resilience.Backoff(rt.retryBase, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	next, err := msg.encode()
	if err != nil {
		return
	}
	_, err = w.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, rt.keys.processing(), raw)
		p.ZAdd(ctx, rt.keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: next})
		return nil
	})
	if err != nil {
		w.logger().Error().Err(err).Str("kind", msg.Kind).Msg("queue_retry_failed")
		return
	}
	countProcessed(msg.Kind, "retry")
	w.logger().Warn().Err(cause).Str("kind", msg.Kind).Int("attempt", msg.Attempt).Dur("retry_in", delay).Msg("queue_task_retry")
}

func (w Worker) deadLetter(ctx context.Context, rt run, msg message, cause error) {
	countProcessed(msg.Kind, "dead")
	if msg.Key != "" {
		defer func() { _ = w.R.Del(ctx, rt.keys.dedup(msg.Key)).Err() }()
	}
	evt := w.logger().Error().Err(cause).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt)
	if w.Store == nil {
		evt.Msg("queue_task_dropped")
		return
	}
	payload, err := msg.encode()
	if err != nil {
		return
	}
	lastErr := cause.Error()
	if _, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
		Kind:           msg.Kind,
		IdempotencyKey: msg.Key,
		Payload:        []byte(payload),
		Attempts:       msg.Attempt,
		LastError:      &lastErr,
	}); err != nil {
		w.logger().Error().Err(err).Str("kind", msg.Kind).Msg("queue_dlq_insert_failed")
		return
	}
	evt.Msg("queue_task_dead_lettered")
	if n, err := w.Store.CountQueueDlq(ctx, msg.Kind); err == nil {
		setDLQSize(msg.Kind, n)
	}
}

// reap returns tasks whose visibility deadline passed to the ready set. The lost delivery counts
// as an attempt, so a task that keeps crashing its worker still ends in the DLQ.
func (w Worker) reap(ctx context.Context, rt run) error {
	tick := time.NewTicker(reapEvery)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		expired, err := w.R.ZRangeByScore(ctx, rt.keys.processing(), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(time.Now().UnixNano(), 10),
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, raw := range expired {
			w.requeue(ctx, rt, raw)
		}
	}
}

func (w Worker) requeue(ctx context.Context, rt run, raw string) {
	// ZRem decides the race with a late ack from the original holder.
	if n, err := w.R.ZRem(ctx, rt.keys.processing(), raw).Result(); err != nil || n == 0 {
		return
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		return
	}
	msg.Attempt++
	if msg.exhausted(msg.Attempt) {
		w.deadLetter(ctx, rt, msg, errors.New(lostAttempt))
		return
	}
	msg.AvailableAt = time.Now().UnixNano()
	next, err := msg.encode()
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, rt.keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: next}).Err()
	w.logger().Warn().Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("queue_task_redelivered")
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
