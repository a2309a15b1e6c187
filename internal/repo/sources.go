package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

var _ matrix.SourceStore = (*SourceStore)(nil)

// SourceStore persists uploaded matrix assets in pricing_matrix_sources.
type SourceStore struct {
	db DB
}

// NewSourceStore builds the store over a pool (or any DB).
func NewSourceStore(db DB) *SourceStore {
	return &SourceStore{db: db}
}

const sourceColumns = `product_id, field_id, site_id, is_promotional, filename, content_type, contents, modified_at`

func (s *SourceStore) GetSource(ctx context.Context, scope matrix.Scope) (*matrix.Source, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sourceColumns+` FROM pricing_matrix_sources
WHERE product_id = $1 AND field_id = $2 AND site_id = $3`, scope.ProductID, scope.FieldID, scope.SiteID)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get source: %w", matrix.ErrPersistence, err)
	}
	return &src, nil
}

func (s *SourceStore) ListSources(ctx context.Context, productID, siteID int64) ([]matrix.Source, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sourceColumns+` FROM pricing_matrix_sources
WHERE product_id = $1 AND site_id = $2 ORDER BY field_id`, productID, siteID)
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %w", matrix.ErrPersistence, err)
	}
	defer rows.Close()

	var out []matrix.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan source: %w", matrix.ErrPersistence, err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sources: %w", matrix.ErrPersistence, err)
	}
	return out, nil
}

// PutSource upserts the source. modified_at is always the database clock, the same clock that
// stamps cell created_at, so Asset.ModifiedAt is ignored.
func (s *SourceStore) PutSource(ctx context.Context, src matrix.Source) error {
	if err := src.Scope.Validate(); err != nil {
		return err
	}
	var (
		filename, contentType string
		contents              []byte
	)
	if src.Asset != nil {
		filename = src.Asset.Filename
		contentType = src.Asset.ContentType
		contents = src.Asset.Contents
	}
	_, err := s.db.Exec(ctx, `INSERT INTO pricing_matrix_sources (`+sourceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (product_id, field_id, site_id) DO UPDATE SET
	is_promotional = EXCLUDED.is_promotional,
	filename = EXCLUDED.filename,
	content_type = EXCLUDED.content_type,
	contents = EXCLUDED.contents,
	modified_at = EXCLUDED.modified_at`,
		src.Scope.ProductID, src.Scope.FieldID, src.Scope.SiteID, src.Tier == matrix.Promotional,
		filename, contentType, contents)
	if err != nil {
		return fmt.Errorf("%w: put source: %w", matrix.ErrPersistence, err)
	}
	return nil
}

func (s *SourceStore) ClearSource(ctx context.Context, scope matrix.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `INSERT INTO pricing_matrix_sources (`+sourceColumns+`)
VALUES ($1, $2, $3, false, '', '', NULL, now())
ON CONFLICT (product_id, field_id, site_id) DO UPDATE SET
	filename = '', content_type = '', contents = NULL, modified_at = now()`,
		scope.ProductID, scope.FieldID, scope.SiteID)
	if err != nil {
		return fmt.Errorf("%w: clear source: %w", matrix.ErrPersistence, err)
	}
	return nil
}

func scanSource(row pgx.Row) (matrix.Source, error) {
	var (
		src      matrix.Source
		promo    bool
		asset    matrix.Asset
		contents []byte
	)
	if err := row.Scan(&src.Scope.ProductID, &src.Scope.FieldID, &src.Scope.SiteID, &promo,
		&asset.Filename, &asset.ContentType, &contents, &asset.ModifiedAt); err != nil {
		return matrix.Source{}, err
	}
	if promo {
		src.Tier = matrix.Promotional
	}
	if contents != nil {
		asset.Contents = contents
		src.Asset = &asset
	}
	return src, nil
}
