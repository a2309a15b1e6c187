package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/obs"
)

// Cache stores resolved records as JSON in Redis. Keys embed a per-product generation so that a
// single INCR drops every cached resolution of that product.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCache constructs a cache helper. A nil client or non-positive ttl disables caching.
func NewCache(client *redis.Client, ttl time.Duration, prefix string) *Cache {
	if prefix == "" {
		prefix = "pricing"
	}
	return &Cache{client: client, ttl: ttl, prefix: prefix}
}

type cachedResolution struct {
	Record *matrix.Record `json:"record"`
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate bumps the product generation.
func (c *Cache) Invalidate(ctx context.Context, productID int64) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, c.generationKey(productID)).Err()
}

// Notifier invalidates a product whenever an event reports changed prices.
func (c *Cache) Notifier() events.Notifier {
	return events.NotifierFunc(func(ctx context.Context, ev events.Event) error {
		if !events.ChangesPrices(ev.Topic) {
			return nil
		}
		return c.Invalidate(ctx, ev.ProductID)
	})
}

// lookup returns the cached resolution. ok is false on a miss or any cache failure.
func (c *Cache) lookup(ctx context.Context, scope matrix.Scope, tier matrix.Tier, width, height int) (rec *matrix.Record, key string, ok bool) {
	if !c.enabled() {
		return nil, "", false
	}
	gen, err := c.generation(ctx, scope.ProductID)
	if err != nil {
		return nil, "", false
	}
	key = fmt.Sprintf("%s:price:%d:%d:%d:%s:%dx%d:g%d", c.prefix, scope.ProductID, scope.FieldID, scope.SiteID, tier, width, height, gen)
	var cached cachedResolution
	hit, err := c.GetJSON(ctx, key, &cached)
	if err != nil || !hit {
		obs.ObserveCache("miss")
		return nil, key, false
	}
	obs.ObserveCache("hit")
	return cached.Record, key, true
}

func (c *Cache) store(ctx context.Context, key string, rec *matrix.Record) {
	_ = c.SetJSON(ctx, key, cachedResolution{Record: rec})
}

func (c *Cache) generation(ctx context.Context, productID int64) (int64, error) {
	raw, err := c.client.Get(ctx, c.generationKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (c *Cache) generationKey(productID int64) string {
	return fmt.Sprintf("%s:price:gen:%d", c.prefix, productID)
}
