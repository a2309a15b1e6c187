package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

// LineItem is the order line snapshot the pricer reads and updates.
type LineItem struct {
	ProductID  int64           `json:"productId"`
	SiteID     int64           `json:"siteId"`
	Width      *int            `json:"width,omitempty"`
	Height     *int            `json:"height,omitempty"`
	Price      decimal.Decimal `json:"price"`
	SalePrice  decimal.Decimal `json:"salePrice"`
	SaleAmount decimal.Decimal `json:"saleAmount"`
}

// Lookup describes one pricing attempt passed to hooks.
type Lookup struct {
	Item            LineItem
	PairedProductID int64
	Width           *int
	Height          *int
	OnSale          bool
	// Priced is set for AfterLookup when a standard match was applied.
	Priced bool
}

// Hooks are callbacks registered by the caller around every lookup. A BeforeLookup returning
// false cancels the lookup and leaves the item untouched.
type Hooks struct {
	BeforeLookup []func(ctx context.Context, l Lookup) bool
	AfterLookup  []func(ctx context.Context, l Lookup)
}

// Pricer applies matrix prices to line items.
type Pricer struct {
	Resolver *Resolver
	Hooks    Hooks
}

// Price snaps the item to the standard match covering the request and prices it. When onSale
// and a promotional match exists the item is re-snapped to it and carries the discount as a
// negative SaleAmount.
func (p *Pricer) Price(ctx context.Context, item LineItem, width, height *int, onSale bool) (LineItem, error) {
	l := Lookup{Item: item, Width: width, Height: height, OnSale: onSale}
	if !p.before(ctx, l) {
		return item, nil
	}
	lg, err := p.resolveLeg(ctx, item.ProductID, item.SiteID, width, height, onSale)
	if err != nil {
		return item, err
	}
	if lg.std == nil {
		p.after(ctx, l)
		return item, nil
	}

	out := item
	snap(&out, lg.std)
	out.Price = lg.std.Price
	out.SalePrice = lg.std.Price
	out.SaleAmount = decimal.Zero
	if lg.promo != nil {
		snap(&out, lg.promo)
		out.SalePrice = lg.promo.Price
		out.SaleAmount = lg.promo.Price.Sub(lg.std.Price)
	}
	l.Item, l.Priced = out, true
	p.after(ctx, l)
	return out, nil
}

// PricePaired prices a compound product made of the item's product and a linked one. Both legs
// must resolve a standard match; the sale applies only when both legs resolve a promotional one.
// Dimensions snap to the primary leg.
func (p *Pricer) PricePaired(ctx context.Context, item LineItem, pairedProductID int64, width, height *int, onSale bool) (LineItem, error) {
	l := Lookup{Item: item, PairedProductID: pairedProductID, Width: width, Height: height, OnSale: onSale}
	if !p.before(ctx, l) {
		return item, nil
	}
	a, err := p.resolveLeg(ctx, item.ProductID, item.SiteID, width, height, onSale)
	if err != nil {
		return item, err
	}
	b, err := p.resolveLeg(ctx, pairedProductID, item.SiteID, width, height, onSale)
	if err != nil {
		return item, err
	}
	if a.std == nil || b.std == nil {
		p.after(ctx, l)
		return item, nil
	}

	out := item
	snap(&out, a.std)
	out.Price = a.std.Price.Add(b.std.Price)
	out.SalePrice = out.Price
	out.SaleAmount = decimal.Zero
	if a.promo != nil && b.promo != nil {
		snap(&out, a.promo)
		out.SalePrice = a.promo.Price.Add(b.promo.Price)
		out.SaleAmount = out.SalePrice.Sub(out.Price)
	}
	l.Item, l.Priced = out, true
	p.after(ctx, l)
	return out, nil
}

// leg holds the matches for one product. promo is only looked up for sale lines.
type leg struct {
	std   *matrix.Record
	promo *matrix.Record
}

func (p *Pricer) resolveLeg(ctx context.Context, productID, siteID int64, width, height *int, onSale bool) (leg, error) {
	var out leg
	has, err := p.Resolver.HasMatrix(ctx, productID, siteID)
	if err != nil || !has {
		return out, err
	}
	scope := matrix.Scope{ProductID: productID, FieldID: matrix.AnyField, SiteID: siteID}
	out.std, err = p.Resolver.ResolveStandard(ctx, scope, width, height)
	if err != nil || out.std == nil || !onSale {
		return out, err
	}
	out.promo, err = p.Resolver.ResolvePromotional(ctx, scope, width, height)
	return out, err
}

func (p *Pricer) before(ctx context.Context, l Lookup) bool {
	for _, hook := range p.Hooks.BeforeLookup {
		if !hook(ctx, l) {
			return false
		}
	}
	return true
}

func (p *Pricer) after(ctx context.Context, l Lookup) {
	for _, hook := range p.Hooks.AfterLookup {
		hook(ctx, l)
	}
}

func snap(item *LineItem, rec *matrix.Record) {
	w, h := rec.Width, rec.Height
	item.Width, item.Height = &w, &h
}
