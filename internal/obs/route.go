package obs

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type routeKey struct{}

// WithRoutePattern pins a route pattern on the context. Handlers mounted outside chi use it to
// report a stable label.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routeKey{}, pattern)
}

// RoutePatternFromContext returns the pinned pattern, falling back to whatever chi has matched so
// far. Middleware that runs before routing only sees the full pattern after calling next.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if pattern, ok := ctx.Value(routeKey{}).(string); ok && pattern != "" {
		return pattern
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// routeLabel keeps metric and span cardinality bounded: unmatched requests share one label.
func routeLabel(r *http.Request) string {
	if pattern := RoutePatternFromContext(r.Context()); pattern != "" {
		return pattern
	}
	return "unmatched"
}
