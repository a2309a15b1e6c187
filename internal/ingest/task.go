package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
)

// TaskKind is the queue kind consumed by the ingestion worker.
const TaskKind = "matrix:ingest"

// TaskPayload is the JSON body of an ingestion task.
type TaskPayload struct {
	ProductID int64 `json:"productId"`
	SiteID    int64 `json:"siteId"`
}

// Enqueuer is the subset of queue.Enqueuer used to schedule ingestion.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Schedule queues a product ingestion. Saves arriving within the dedup window collapse into one
// task; the worker reads the latest sources anyway.
func Schedule(ctx context.Context, q Enqueuer, productID, siteID int64) error {
	if q == nil {
		return errors.New("ingest: queue not configured")
	}
	payload, err := json.Marshal(TaskPayload{ProductID: productID, SiteID: siteID})
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        payload,
		IdempotencyKey: fmt.Sprintf("product:%d:site:%d", productID, siteID),
	})
}

// Handler returns the worker handler for TaskKind. Malformed sources and bad payloads are
// permanent failures; everything else is retried.
func (i *Ingestor) Handler() func(context.Context, queue.Task) error {
	return func(ctx context.Context, t queue.Task) error {
		var p TaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return queue.Permanent(fmt.Errorf("decode ingest payload: %w", err))
		}
		_, err := i.IngestProduct(ctx, p.ProductID, p.SiteID)
		if errors.Is(err, matrix.ErrMalformedMatrix) || errors.Is(err, matrix.ErrInvalidScope) {
			return queue.Permanent(err)
		}
		return err
	}
}
