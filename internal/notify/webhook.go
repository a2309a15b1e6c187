package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
	"github.com/noah-isme/toko-pricing-matrix/internal/resilience"
)

// TaskKind is the queue kind for webhook deliveries.
const TaskKind = "matrix:webhook"

// Endpoint is a subscriber notified when stored prices change.
type Endpoint struct {
	URL    string
	Secret string
}

// Delivery is one event bound for one endpoint. Secrets stay in config and never enter the queue.
type Delivery struct {
	URL   string       `json:"url"`
	Event events.Event `json:"event"`
}

// Doer sends HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Dispatcher signs and posts deliveries.
type Dispatcher struct {
	Endpoints []Endpoint
	HTTP      Doer
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Logger    *zerolog.Logger
	Now       func() time.Time
}

type webhookBody struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	ProductID  int64           `json:"productId"`
	SiteID     int64           `json:"siteId"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Deliver posts the event to its endpoint. Client errors and unknown endpoints are permanent;
// everything else is returned for the queue to retry.
func (d *Dispatcher) Deliver(ctx context.Context, del Delivery) error {
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.url", del.URL),
		attribute.String("webhook.topic", del.Event.Topic),
		attribute.String("webhook.event_id", del.Event.ID.String()),
	)

	ep, ok := d.endpoint(del.URL)
	if !ok {
		return queue.Permanent(fmt.Errorf("webhook endpoint %q is no longer configured", del.URL))
	}
	if err := validateURL(ep.URL); err != nil {
		return queue.Permanent(err)
	}
	if d.HTTP == nil {
		return errors.New("notify: http client not configured")
	}

	data := del.Event.Payload
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(webhookBody{
		EventID:    del.Event.ID.String(),
		Topic:      del.Event.Topic,
		ProductID:  del.Event.ProductID,
		SiteID:     del.Event.SiteID,
		Data:       data,
		OccurredAt: del.Event.OccurredAt,
	})
	if err != nil {
		return queue.Permanent(err)
	}

	replay := replayKey(ep.URL, del.Event.ID.String())
	if d.Replay != nil && d.ReplayTTL > 0 {
		acquired, err := d.Replay.Acquire(ctx, replay, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !acquired {
			span.AddEvent("delivery replay prevented")
			return nil
		}
	}

	status, err := d.post(ctx, ep, del.Event.ID.String(), body)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err == nil && status >= 200 && status < 300 {
		d.logger().Debug().Str("url", ep.URL).Str("event_id", del.Event.ID.String()).Int("status", status).Msg("webhook delivered")
		return nil
	}
	if d.Replay != nil && d.ReplayTTL > 0 {
		_ = d.Replay.Release(ctx, replay)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	statusErr := &resilience.StatusError{StatusCode: status}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return queue.Permanent(statusErr)
	}
	return statusErr
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, eventID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, queue.Permanent(err)
	}
	ts := d.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toko-pricing-webhooks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))

	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// Handler adapts Deliver to the queue worker.
func (d *Dispatcher) Handler() func(context.Context, queue.Task) error {
	return func(ctx context.Context, task queue.Task) error {
		var del Delivery
		if err := json.Unmarshal(task.Payload, &del); err != nil {
			return queue.Permanent(fmt.Errorf("decode webhook delivery: %w", err))
		}
		return d.Deliver(ctx, del)
	}
}

func (d *Dispatcher) endpoint(raw string) (Endpoint, bool) {
	for _, ep := range d.Endpoints {
		if ep.URL == raw {
			return ep, true
		}
	}
	return Endpoint{}, false
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) logger() *zerolog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	l := zerolog.Nop()
	return &l
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature: HMAC-SHA256 over "<ts>.<eventID>.<body>"
// keyed with the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns a traced HTTP client for webhook delivery.
func HTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
