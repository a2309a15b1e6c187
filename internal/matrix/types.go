package matrix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier selects the pricing variant a record belongs to. Tiers never mix in one query.
type Tier int

const (
	// Standard is the regular price list.
	Standard Tier = iota
	// Promotional holds sale prices applied to line items flagged as on sale.
	Promotional
)

// AnyField is the field wildcard accepted by read queries: it matches every matrix field of a
// product on the requested site.
const AnyField int64 = 0

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case Promotional:
		return "promotional"
	default:
		return "standard"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier accepts "standard", "promotional" (and the shorthands "promo", "sale").
// An empty value resolves to Standard.
func ParseTier(value string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "standard":
		return Standard, nil
	case "promotional", "promo", "sale":
		return Promotional, nil
	default:
		return Standard, fmt.Errorf("matrix: unknown tier %q", value)
	}
}

// Scope identifies one independent pricing matrix.
type Scope struct {
	ProductID int64 `json:"productId"`
	FieldID   int64 `json:"fieldId"`
	SiteID    int64 `json:"siteId"`
}

// Validate reports whether the scope can be written to. Writes never accept AnyField.
func (s Scope) Validate() error {
	if s.ProductID <= 0 {
		return fmt.Errorf("%w: product id must be positive", ErrInvalidScope)
	}
	if s.FieldID <= 0 {
		return fmt.Errorf("%w: field id must be positive", ErrInvalidScope)
	}
	if s.SiteID <= 0 {
		return fmt.Errorf("%w: site id must be positive", ErrInvalidScope)
	}
	return nil
}

// Covers reports whether a record stored under other belongs to the queried scope s.
func (s Scope) Covers(other Scope) bool {
	if s.ProductID != other.ProductID || s.SiteID != other.SiteID {
		return false
	}
	return s.FieldID == AnyField || s.FieldID == other.FieldID
}

func (s Scope) String() string {
	return fmt.Sprintf("product=%d field=%d site=%d", s.ProductID, s.FieldID, s.SiteID)
}

// Record is one stored price cell.
type Record struct {
	ID        int64           `json:"id"`
	Scope     Scope           `json:"scope"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Price     decimal.Decimal `json:"price"`
	Tier      Tier            `json:"tier"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Filter narrows existence checks. Nil FieldID or SiteID means any.
type Filter struct {
	ProductID int64
	FieldID   *int64
	SiteID    *int64
}

// ForSite builds a filter for every field of a product on a site.
func ForSite(productID, siteID int64) Filter {
	return Filter{ProductID: productID, SiteID: &siteID}
}

// Matches reports whether the record falls under the filter.
func (f Filter) Matches(r Record) bool {
	if r.Scope.ProductID != f.ProductID {
		return false
	}
	if f.FieldID != nil && r.Scope.FieldID != *f.FieldID {
		return false
	}
	if f.SiteID != nil && r.Scope.SiteID != *f.SiteID {
		return false
	}
	return true
}

// Axis picks the primary ordering dimension for bound queries.
type Axis int

const (
	AxisWidth Axis = iota
	AxisHeight
)

// Direction picks the extreme returned by bound queries.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Store persists price records. Implementations must make ReplaceScope atomic.
type Store interface {
	ReplaceScope(ctx context.Context, scope Scope, records []Record) error
	HasAny(ctx context.Context, f Filter) (bool, error)
	HasPromotional(ctx context.Context, f Filter) (bool, error)
	NearestFit(ctx context.Context, scope Scope, tier Tier, width, height int) (*Record, error)
	Bound(ctx context.Context, scope Scope, tier Tier, axis Axis, dir Direction) (*Record, error)
	CreatedAfter(ctx context.Context, scope Scope, t time.Time) (bool, error)
}
