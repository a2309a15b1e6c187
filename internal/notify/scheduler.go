package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
)

// Enqueuer publishes queue tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Scheduler is an events.Notifier that queues one delivery per endpoint for every event that
// changes stored prices.
type Scheduler struct {
	Endpoints   []Endpoint
	Queue       Enqueuer
	MaxAttempts int
}

// Notify implements events.Notifier.
func (s Scheduler) Notify(ctx context.Context, event events.Event) error {
	if s.Queue == nil || len(s.Endpoints) == 0 || !events.ChangesPrices(event.Topic) {
		return nil
	}
	var joined error
	for _, ep := range s.Endpoints {
		payload, err := json.Marshal(Delivery{URL: ep.URL, Event: event})
		if err != nil {
			return err
		}
		err = s.Queue.Enqueue(ctx, queue.Task{
			Kind:           TaskKind,
			Payload:        payload,
			IdempotencyKey: fmt.Sprintf("webhook:%s:%s", endpointHash(ep.URL), event.ID),
			MaxAttempts:    s.MaxAttempts,
		})
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("enqueue webhook for %s: %w", ep.URL, err))
		}
	}
	return joined
}

// EndpointsFrom pairs every configured URL with the shared signing secret.
func EndpointsFrom(urls []string, secret string) []Endpoint {
	out := make([]Endpoint, 0, len(urls))
	for _, u := range urls {
		out = append(out, Endpoint{URL: u, Secret: secret})
	}
	return out
}
