package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/lock"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/obs"
)

// Outcome values reported per ingested source.
const (
	OutcomeIngested = "ingested"
	OutcomeSkipped  = "skipped"
	OutcomeRemoved  = "removed"
	OutcomeFailed   = "failed"
)

var nopLogger = zerolog.Nop()

// Result summarises what happened to one scope during an ingestion pass.
type Result struct {
	Scope   matrix.Scope `json:"scope"`
	Tier    matrix.Tier  `json:"tier"`
	Outcome string       `json:"outcome"`
	Cells   int          `json:"cells"`
}

// Ingestor turns stored source assets into price records.
type Ingestor struct {
	Store   matrix.Store
	Sources matrix.SourceStore
	// Locker serialises passes per product and site. Nil runs unlocked.
	Locker  *lock.Locker
	LockTTL time.Duration
	Events  *events.Bus
	Logger  *zerolog.Logger
}

// IngestProduct re-ingests every matrix field configured on the product for one site. The pass
// stops at the first failing field.
func (i *Ingestor) IngestProduct(ctx context.Context, productID, siteID int64) ([]Result, error) {
	if productID <= 0 || siteID <= 0 {
		return nil, fmt.Errorf("%w: product and site ids must be positive", matrix.ErrInvalidScope)
	}
	var results []Result
	err := i.Exclusive(ctx, productID, siteID, func(ctx context.Context) error {
		sources, err := i.Sources.ListSources(ctx, productID, siteID)
		if err != nil {
			return fmt.Errorf("%w: list sources: %w", matrix.ErrPersistence, err)
		}
		for _, src := range sources {
			res, err := i.ingest(ctx, src)
			results = append(results, res)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return results, err
}

// IngestScope re-ingests a single field.
func (i *Ingestor) IngestScope(ctx context.Context, scope matrix.Scope) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{Scope: scope, Outcome: OutcomeFailed}, err
	}
	var res Result
	err := i.Exclusive(ctx, scope.ProductID, scope.SiteID, func(ctx context.Context) error {
		src, err := i.Sources.GetSource(ctx, scope)
		if err != nil {
			return fmt.Errorf("%w: get source: %w", matrix.ErrPersistence, err)
		}
		if src == nil {
			src = &matrix.Source{Scope: scope}
		}
		res, err = i.ingest(ctx, *src)
		return err
	})
	return res, err
}

func (i *Ingestor) ingest(ctx context.Context, src matrix.Source) (Result, error) {
	res := Result{Scope: src.Scope, Tier: src.Tier}
	logger := i.logger().With().
		Int64("product_id", src.Scope.ProductID).
		Int64("field_id", src.Scope.FieldID).
		Int64("site_id", src.Scope.SiteID).
		Str("tier", src.Tier.String()).
		Logger()
	started := time.Now()

	if src.Asset == nil {
		if err := i.Store.ReplaceScope(ctx, src.Scope, nil); err != nil {
			return i.fail(ctx, res, started, logger, err)
		}
		res.Outcome = OutcomeRemoved
		obs.ObserveIngest(res.Outcome, 0, obs.DurationMillis(time.Since(started)))
		logger.Info().Msg("pricing matrix removed")
		i.emit(ctx, events.TopicMatrixRemoved, res, "")
		return res, nil
	}

	stale, err := StalenessChecker{Store: i.Store}.IsStale(ctx, src.Asset, src.Scope)
	if err != nil {
		return i.fail(ctx, res, started, logger, fmt.Errorf("%w: staleness check: %w", matrix.ErrPersistence, err))
	}
	if !stale {
		res.Outcome = OutcomeSkipped
		obs.ObserveIngest(res.Outcome, 0, obs.DurationMillis(time.Since(started)))
		logger.Debug().Msg("pricing matrix up to date")
		return res, nil
	}

	grid, err := matrix.ParseSource(src.Asset.ContentType, src.Asset.Filename, src.Asset.Contents)
	if err != nil {
		return i.fail(ctx, res, started, logger, err)
	}
	records, err := matrix.BuildRecords(src.Scope, src.Tier, grid)
	if err != nil {
		return i.fail(ctx, res, started, logger, err)
	}
	if err := i.Store.ReplaceScope(ctx, src.Scope, records); err != nil {
		return i.fail(ctx, res, started, logger, err)
	}

	res.Outcome = OutcomeIngested
	res.Cells = len(records)
	obs.ObserveIngest(res.Outcome, res.Cells, obs.DurationMillis(time.Since(started)))
	logger.Info().Int("cells", res.Cells).Str("file", src.Asset.Filename).Msg("pricing matrix ingested")
	i.emit(ctx, events.TopicMatrixIngested, res, "")
	return res, nil
}

func (i *Ingestor) fail(ctx context.Context, res Result, started time.Time, logger zerolog.Logger, err error) (Result, error) {
	res.Outcome = OutcomeFailed
	obs.ObserveIngest(res.Outcome, 0, obs.DurationMillis(time.Since(started)))
	logger.Error().Err(err).Msg("pricing matrix ingestion failed")
	if errors.Is(err, matrix.ErrMalformedMatrix) {
		i.emit(ctx, events.TopicMatrixIngestFailed, res, err.Error())
	}
	return res, err
}

func (i *Ingestor) emit(ctx context.Context, topic string, res Result, reason string) {
	if i.Events == nil {
		return
	}
	payload := map[string]any{
		"fieldId": res.Scope.FieldID,
		"tier":    res.Tier,
		"cells":   res.Cells,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if _, err := i.Events.Emit(ctx, topic, res.Scope.ProductID, res.Scope.SiteID, payload); err != nil {
		i.logger().Warn().Err(err).Str("topic", topic).Msg("emit matrix event")
	}
}

// Exclusive runs fn under the lock that serialises passes for the product and site. Source writes
// take it too, so an upload cannot land between a pass reading sources and replacing records.
func (i *Ingestor) Exclusive(ctx context.Context, productID, siteID int64, fn func(context.Context) error) error {
	if i.Locker == nil {
		return fn(ctx)
	}
	return i.Locker.WithLock(ctx, LockKey(productID, siteID), i.LockTTL, fn)
}

func (i *Ingestor) logger() *zerolog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return &nopLogger
}

// LockKey names the lock guarding ingestion of a product on a site.
func LockKey(productID, siteID int64) string {
	return fmt.Sprintf("matrix:%d:%d", productID, siteID)
}
