package repo

import (
	"context"
	"time"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/resilience"
)

var _ matrix.Store = GuardedStore{}

// GuardedStore routes read queries through a circuit breaker so lookups fail fast while the
// database is down. Writes pass through unguarded.
type GuardedStore struct {
	Store   matrix.Store
	Breaker *resilience.Breaker
}

func (g GuardedStore) ReplaceScope(ctx context.Context, scope matrix.Scope, records []matrix.Record) error {
	return g.Store.ReplaceScope(ctx, scope, records)
}

func (g GuardedStore) HasAny(ctx context.Context, f matrix.Filter) (bool, error) {
	var ok bool
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = g.Store.HasAny(ctx, f)
		return err
	})
	return ok, err
}

func (g GuardedStore) HasPromotional(ctx context.Context, f matrix.Filter) (bool, error) {
	var ok bool
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = g.Store.HasPromotional(ctx, f)
		return err
	})
	return ok, err
}

func (g GuardedStore) NearestFit(ctx context.Context, scope matrix.Scope, tier matrix.Tier, width, height int) (*matrix.Record, error) {
	var rec *matrix.Record
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = g.Store.NearestFit(ctx, scope, tier, width, height)
		return err
	})
	return rec, err
}

func (g GuardedStore) Bound(ctx context.Context, scope matrix.Scope, tier matrix.Tier, axis matrix.Axis, dir matrix.Direction) (*matrix.Record, error) {
	var rec *matrix.Record
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = g.Store.Bound(ctx, scope, tier, axis, dir)
		return err
	})
	return rec, err
}

func (g GuardedStore) CreatedAfter(ctx context.Context, scope matrix.Scope, t time.Time) (bool, error) {
	return g.Store.CreatedAfter(ctx, scope, t)
}
