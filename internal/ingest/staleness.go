package ingest

import (
	"context"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

// StalenessChecker decides whether a source asset has to be parsed again.
type StalenessChecker struct {
	Store matrix.Store
}

// IsStale is true unless some record in scope was created strictly after the asset was last
// modified. A missing asset is always stale so that its scope gets cleared.
func (c StalenessChecker) IsStale(ctx context.Context, asset *matrix.Asset, scope matrix.Scope) (bool, error) {
	if asset == nil {
		return true, nil
	}
	fresh, err := c.Store.CreatedAfter(ctx, scope, asset.ModifiedAt)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}
