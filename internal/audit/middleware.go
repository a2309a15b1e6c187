package audit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPRecorder writes one audit entry per admin request once the handler has answered, so the
// entry carries the final status code.
type HTTPRecorder struct {
	Service Service
	OnError func(error)
}

// HTTPConfig describes the entry produced for a route. IDParams are chi URL params joined with
// "/" into the resource ID, e.g. productID/fieldID/siteID for a matrix scope.
type HTTPConfig struct {
	Action       string
	Resource     string
	IDParams     []string
	MetadataFunc func(*http.Request, int) map[string]any
}

func (cfg HTTPConfig) resourceID(req *http.Request) string {
	parts := make([]string, 0, len(cfg.IDParams))
	for _, name := range cfg.IDParams {
		if v := chi.URLParam(req, name); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "/")
}

func (cfg HTTPConfig) metadata(req *http.Request, status int) json.RawMessage {
	if cfg.MetadataFunc == nil {
		return nil
	}
	fields := cfg.MetadataFunc(req, status)
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return raw
}

// Middleware returns chi middleware recording cfg's action.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !r.Service.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			err := r.Service.Record(req.Context(), cfg.Action, cfg.Resource, cfg.resourceID(req), req, status, cfg.metadata(req, status))
			if err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}
