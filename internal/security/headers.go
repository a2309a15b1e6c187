package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// baseline headers for a JSON-only API: nothing may be framed, sniffed or loaded.
var baseline = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cross-Origin-Resource-Policy", "same-site"},
}

// Headers sets the baseline security headers. HSTS is zero to disable Strict-Transport-Security,
// which is only ever sent on requests that arrived over TLS, directly or via a proxy.
type Headers struct {
	HSTS              time.Duration
	IncludeSubdomains bool
}

// Middleware attaches the headers before next writes.
func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := ""
	if h.HSTS > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(h.HSTS/time.Second), 10)
		if h.IncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		for _, kv := range baseline {
			hdr.Set(kv[0], kv[1])
		}
		if hsts != "" && overTLS(r) {
			hdr.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func overTLS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// NoStore marks every response as uncacheable.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
