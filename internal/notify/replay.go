package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayProtector remembers which (endpoint, event) pairs were delivered so a redelivered queue
// task does not post the same price change twice.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayProtector keeps delivery markers in Redis. The marker value is the Unix time of
// the claim. A nil client claims everything.
type RedisReplayProtector struct {
	Client *redis.Client
	Prefix string
}

// Acquire claims key for ttl. It reports false when another delivery already holds it.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	err := r.Client.SetArgs(ctx, r.Prefix+key, strconv.FormatInt(time.Now().Unix(), 10), redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	}
	return false, err
}

// Release drops the marker so a failed delivery can be retried.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.Prefix+key).Err()
}

// replayKey scopes the marker to one endpoint. URLs are hashed to keep secrets in query strings
// out of Redis.
func replayKey(endpointURL, eventID string) string {
	return "wh:" + endpointHash(endpointURL) + ":" + eventID
}

func endpointHash(endpointURL string) string {
	sum := sha256.Sum256([]byte(endpointURL))
	return hex.EncodeToString(sum[:8])
}
