package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

var _ matrix.Store = (*MatrixStore)(nil)

// MatrixStore persists price cells in pricing_matrix_cells.
type MatrixStore struct {
	db DB
}

// NewMatrixStore builds the store over a pool (or any DB).
func NewMatrixStore(db DB) *MatrixStore {
	return &MatrixStore{db: db}
}

const cellColumns = `id, field_id, product_id, site_id, width, height, price, is_promotional, created_at, updated_at`

// scopeClause matches a scope on read queries; field 0 widens to every field of the product.
const scopeClause = `product_id = $1 AND site_id = $2 AND ($3::bigint = 0 OR field_id = $3)`

// ReplaceScope deletes the scope and inserts the new records in one transaction.
func (s *MatrixStore) ReplaceScope(ctx context.Context, scope matrix.Scope, records []matrix.Record) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM pricing_matrix_cells WHERE field_id = $1 AND product_id = $2 AND site_id = $3`,
			scope.FieldID, scope.ProductID, scope.SiteID); err != nil {
			return fmt.Errorf("delete scope: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(`INSERT INTO pricing_matrix_cells (field_id, product_id, site_id, width, height, price, is_promotional, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
				scope.FieldID, scope.ProductID, scope.SiteID, r.Width, r.Height, r.Price.Round(matrix.PricePlaces), r.Tier == matrix.Promotional)
		}
		results := tx.SendBatch(ctx, batch)
		for i := range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert cell %d: %w", i, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: replace %s: %w", matrix.ErrPersistence, scope, err)
	}
	return nil
}

// HasAny reports whether any cell matches the filter.
func (s *MatrixStore) HasAny(ctx context.Context, f matrix.Filter) (bool, error) {
	return s.exists(ctx, f, "")
}

// HasPromotional reports whether any promotional cell matches the filter.
func (s *MatrixStore) HasPromotional(ctx context.Context, f matrix.Filter) (bool, error) {
	return s.exists(ctx, f, " AND is_promotional")
}

func (s *MatrixStore) exists(ctx context.Context, f matrix.Filter, extra string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM pricing_matrix_cells
	WHERE product_id = $1 AND ($2::bigint IS NULL OR field_id = $2) AND ($3::bigint IS NULL OR site_id = $3)`+extra+`
)`, f.ProductID, f.FieldID, f.SiteID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: exists: %w", matrix.ErrPersistence, err)
	}
	return ok, nil
}

// NearestFit returns the round-up nearest cell, or nil when nothing covers the request.
func (s *MatrixStore) NearestFit(ctx context.Context, scope matrix.Scope, tier matrix.Tier, width, height int) (*matrix.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+cellColumns+`
FROM pricing_matrix_cells
WHERE `+scopeClause+` AND is_promotional = $4 AND width >= $5 AND height >= $6
ORDER BY ABS(height - ($6 + 1)), ABS(width - ($5 + 1)), id
LIMIT 1`, scope.ProductID, scope.SiteID, scope.FieldID, tier == matrix.Promotional, width, height)
	return scanOptional(row, "nearest fit")
}

// Bound returns the extreme cell for the axis and direction.
func (s *MatrixStore) Bound(ctx context.Context, scope matrix.Scope, tier matrix.Tier, axis matrix.Axis, dir matrix.Direction) (*matrix.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+cellColumns+`
FROM pricing_matrix_cells
WHERE `+scopeClause+` AND is_promotional = $4
ORDER BY `+boundOrder(axis, dir)+`
LIMIT 1`, scope.ProductID, scope.SiteID, scope.FieldID, tier == matrix.Promotional)
	return scanOptional(row, "bound")
}

// CreatedAfter reports whether a cell in scope was created strictly after t.
func (s *MatrixStore) CreatedAfter(ctx context.Context, scope matrix.Scope, t time.Time) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM pricing_matrix_cells WHERE `+scopeClause+` AND created_at > $4
)`, scope.ProductID, scope.SiteID, scope.FieldID, t).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: created after: %w", matrix.ErrPersistence, err)
	}
	return ok, nil
}

func boundOrder(axis matrix.Axis, dir matrix.Direction) string {
	d := "ASC"
	if dir == matrix.Descending {
		d = "DESC"
	}
	if axis == matrix.AxisHeight {
		return "height " + d + ", width " + d + ", id ASC"
	}
	return "width " + d + ", height " + d + ", id ASC"
}

func scanOptional(row pgx.Row, op string) (*matrix.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", matrix.ErrPersistence, op, err)
	}
	return &rec, nil
}

func scanRecord(row pgx.Row) (matrix.Record, error) {
	var (
		rec   matrix.Record
		promo bool
	)
	if err := row.Scan(&rec.ID, &rec.Scope.FieldID, &rec.Scope.ProductID, &rec.Scope.SiteID,
		&rec.Width, &rec.Height, &rec.Price, &promo, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return matrix.Record{}, err
	}
	if promo {
		rec.Tier = matrix.Promotional
	}
	return rec, nil
}
