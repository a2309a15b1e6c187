package common

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// ClientIP returns the caller address used for rate limiting and the audit trail. The first
// parseable X-Forwarded-For hop wins, then X-Real-IP, then the socket address.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, ok := parseAddr(hop); ok {
			return addr
		}
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	return remote
}

func parseAddr(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

// Page is a limit/offset window parsed from the query string.
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit and offset. Out-of-range or unparsable values fall back to def and 0;
// limit never exceeds max.
func ParsePage(r *http.Request, def, max int) Page {
	page := Page{Limit: def}
	q := r.URL.Query()
	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && v > 0 {
		page.Limit = v
	}
	if page.Limit > max {
		page.Limit = max
	}
	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("offset"))); err == nil && v >= 0 {
		page.Offset = v
	}
	return page
}
