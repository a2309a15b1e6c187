package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/toko-pricing-matrix/internal/common"
)

// Config selects the bucket a request counts against and its budget. Max <= 0 disables the
// limit.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// ByClientIP buckets requests per caller address within a named route group, so price lookups
// and line-item pricing can be budgeted separately.
func ByClientIP(group string) func(*http.Request) string {
	return func(r *http.Request) string {
		return group + ":" + common.ClientIP(r)
	}
}

// Handler throttles requests with the sliding-window Limiter. Limiter failures fail open and are
// reported through OnError.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware wraps next with the limit.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Config.Key == nil || h.Config.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		h.writeHeaders(w.Header(), d)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		wait := int(math.Ceil(time.Until(d.Reset).Seconds()))
		if wait < 1 {
			wait = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many price lookups, retry later", map[string]int{"retryAfter": wait})
	})
}

func (h Handler) writeHeaders(hdr http.Header, d Decision) {
	hdr.Set("X-RateLimit-Limit", strconv.Itoa(h.Config.Max))
	hdr.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}
