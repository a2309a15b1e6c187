package pricing

import (
	"context"
	"fmt"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/obs"
)

// Resolver answers round-up nearest fit lookups against a matrix store.
type Resolver struct {
	store matrix.Store
	cache *Cache
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(store matrix.Store, cache *Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the smallest record of the tier covering width x height in scope. A missing
// dimension or an uncovered request yields nil without error. Dimensions outside
// 0..MaxDimension fail with matrix.ErrDimensionRange before the store is queried.
func (r *Resolver) Resolve(ctx context.Context, scope matrix.Scope, tier matrix.Tier, width, height *int) (*matrix.Record, error) {
	if width == nil || height == nil {
		obs.ObserveLookup(tier.String(), "skipped")
		return nil, nil
	}
	if !matrix.ValidDimension(*width) || !matrix.ValidDimension(*height) {
		obs.ObserveLookup(tier.String(), "rejected")
		return nil, fmt.Errorf("%w: %dx%d", matrix.ErrDimensionRange, *width, *height)
	}
	cached, key, hit := r.cache.lookup(ctx, scope, tier, *width, *height)
	if hit {
		observeResult(tier, cached)
		return cached, nil
	}
	rec, err := r.nearest(ctx, scope, tier, *width, *height)
	if err != nil {
		return nil, err
	}
	if key != "" {
		r.cache.store(ctx, key, rec)
	}
	return rec, nil
}

// ResolveStandard resolves against Standard records.
func (r *Resolver) ResolveStandard(ctx context.Context, scope matrix.Scope, width, height *int) (*matrix.Record, error) {
	return r.Resolve(ctx, scope, matrix.Standard, width, height)
}

// ResolvePromotional resolves against Promotional records.
func (r *Resolver) ResolvePromotional(ctx context.Context, scope matrix.Scope, width, height *int) (*matrix.Record, error) {
	return r.Resolve(ctx, scope, matrix.Promotional, width, height)
}

// MinDimensions returns the record with the smallest width, then height.
func (r *Resolver) MinDimensions(ctx context.Context, scope matrix.Scope, tier matrix.Tier) (*matrix.Record, error) {
	return r.store.Bound(ctx, scope, tier, matrix.AxisWidth, matrix.Ascending)
}

// MaxDimensions returns the record with the largest width, then height.
func (r *Resolver) MaxDimensions(ctx context.Context, scope matrix.Scope, tier matrix.Tier) (*matrix.Record, error) {
	return r.store.Bound(ctx, scope, tier, matrix.AxisWidth, matrix.Descending)
}

// HasMatrix reports whether the product has any records on the site.
func (r *Resolver) HasMatrix(ctx context.Context, productID, siteID int64) (bool, error) {
	return r.store.HasAny(ctx, matrix.ForSite(productID, siteID))
}

// HasPromotional reports whether the product has promotional records on the site.
func (r *Resolver) HasPromotional(ctx context.Context, productID, siteID int64) (bool, error) {
	return r.store.HasPromotional(ctx, matrix.ForSite(productID, siteID))
}

func (r *Resolver) nearest(ctx context.Context, scope matrix.Scope, tier matrix.Tier, width, height int) (*matrix.Record, error) {
	rec, err := r.store.NearestFit(ctx, scope, tier, width, height)
	if err != nil {
		obs.ObserveLookup(tier.String(), "error")
		return nil, err
	}
	observeResult(tier, rec)
	return rec, nil
}

func observeResult(tier matrix.Tier, rec *matrix.Record) {
	if rec == nil {
		obs.ObserveLookup(tier.String(), "not_found")
		return
	}
	obs.ObserveLookup(tier.String(), "found")
}
