package repo

import (
	"context"
	"fmt"

	"github.com/noah-isme/toko-pricing-matrix/internal/events"
)

var _ events.EventStore = (*EventStore)(nil)

// EventStore appends emitted domain events to pricing_matrix_events.
type EventStore struct {
	db DB
}

// NewEventStore builds the store over a pool (or any DB).
func NewEventStore(db DB) *EventStore {
	return &EventStore{db: db}
}

// InsertEvent implements events.EventStore.
func (s *EventStore) InsertEvent(ctx context.Context, ev events.Event) error {
	_, err := s.db.Exec(ctx, `INSERT INTO pricing_matrix_events (id, topic, product_id, site_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, ev.ID, ev.Topic, ev.ProductID, ev.SiteID, []byte(ev.Payload), ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
