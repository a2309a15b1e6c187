package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// The window is a sorted set of admitted request timestamps (ms). Trimming, counting and the
// conditional insert run in one script so concurrent API replicas cannot overshoot the budget,
// and rejected requests never enter the set.
var slideScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local admitted = 0
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  count = count + 1
  admitted = 1
end
redis.call("PEXPIRE", KEYS[1], window)
local first = now
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
  first = tonumber(oldest[2])
end
return {admitted, count, first}`)

// Decision is the outcome of one Allow call. Reset is when the oldest counted request leaves the
// window.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter is a sliding-window limiter over Redis sorted sets.
type Limiter struct {
	Client *redis.Client
	Prefix string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Allow counts one request against key. A nil client or a non-positive budget always admits.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: limit, Reset: now.Add(window)}, nil
	}
	windowMs := max(window.Milliseconds(), 1)
	res, err := slideScript.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), windowMs, limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, errors.New("ratelimit: unexpected script reply")
	}
	return Decision{
		Allowed:   res[0] == 1,
		Remaining: max(limit-int(res[1]), 0),
		Reset:     time.UnixMilli(res[2] + windowMs),
	}, nil
}
