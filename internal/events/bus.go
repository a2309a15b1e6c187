package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event records one matrix change. Payload is always a JSON object.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Topic      string          `json:"topic"`
	ProductID  int64           `json:"productId"`
	SiteID     int64           `json:"siteId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// EventStore is the append-only event log.
type EventStore interface {
	InsertEvent(ctx context.Context, event Event) error
}

// Notifier is a downstream reaction to an event: price cache invalidation, webhook fan-out, logs.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus writes events to Store first and then hands them to every notifier.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit builds, persists and dispatches one event. Notifiers run even when persisting fails; a
// failed notifier does not stop the rest. Every failure comes back joined.
func (b *Bus) Emit(ctx context.Context, topic string, productID, siteID int64, payload any) (Event, error) {
	if b == nil {
		return Event{}, errors.New("events: bus not configured")
	}
	ev, err := b.newEvent(topic, productID, siteID, payload)
	if err != nil {
		return Event{}, err
	}
	var persistErr error
	if b.Store != nil {
		if err := b.Store.InsertEvent(ctx, ev); err != nil {
			persistErr = fmt.Errorf("events: persist %s: %w", ev.Topic, err)
		}
	}
	return ev, errors.Join(persistErr, b.dispatch(ctx, ev))
}

func (b *Bus) newEvent(topic string, productID, siteID int64, payload any) (Event, error) {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return Event{}, errors.New("events: topic is required")
	case productID <= 0:
		return Event{}, errors.New("events: product id is required")
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	at := time.Now()
	if b.Now != nil {
		at = b.Now()
	}
	return Event{ID: uuid.New(), Topic: topic, ProductID: productID, SiteID: siteID, Payload: raw, OccurredAt: at.UTC()}, nil
}

func (b *Bus) dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return errors.Join(errs...)
}

// marshalPayload accepts a value to encode or pre-encoded JSON ([]byte, json.RawMessage, string).
// Empty input becomes {}.
func marshalPayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(strings.TrimSpace(v))
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return append(json.RawMessage(nil), raw...), nil
}
