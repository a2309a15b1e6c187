package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// StatusError is a response status the client treated as a failure.
type StatusError struct {
	StatusCode int
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// HTTPClient sends outbound calls (webhook deliveries) with per-attempt timeouts, bounded retries
// and an optional breaker. 5xx and 429 responses are retried; everything else is returned to the
// caller unchanged.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	// MaxRetryAfter caps how long a Retry-After hint may delay the next attempt.
	MaxRetryAfter time.Duration
}

// Do runs req until it succeeds, fails permanently or runs out of attempts. The body is buffered
// so each attempt resends it. An open breaker short-circuits with ErrOpenCircuit.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	attempts := max(cl.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.send(ctx, withBody(ctx, req, body))
		if err == nil && !retryable(resp.StatusCode) {
			cl.report(ctx, true)
			return resp, nil
		}
		cl.report(ctx, false)
		if err == nil {
			err = drain(resp)
		}
		lastErr = err
		if attempt >= attempts {
			return nil, lastErr
		}
		if err := sleep(ctx, cl.wait(attempt, lastErr)); err != nil {
			return nil, err
		}
	}
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func (cl HTTPClient) wait(attempt int, err error) time.Duration {
	d := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > d {
		d = statusErr.RetryAfter
		if cl.MaxRetryAfter > 0 {
			d = min(d, cl.MaxRetryAfter)
		}
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (cl HTTPClient) report(ctx context.Context, success bool) {
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
}

func (cl HTTPClient) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Timeout <= 0 {
		return cl.Client.Do(req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, cl.Timeout)
	resp, err := cl.Client.Do(req.WithContext(attemptCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// drain discards a failed response and describes it.
func drain(resp *http.Response) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return &StatusError{StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
}

// retryAfter understands the delay-seconds form only.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// cancelBody releases the attempt's timeout once the caller is done reading.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelBody) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func withBody(ctx context.Context, req *http.Request, body []byte) *http.Request {
	out := req.Clone(ctx)
	if body == nil {
		return out
	}
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.Body, _ = out.GetBody()
	return out
}
