package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMiddlewareRecordsScopeAndFinalStatus(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: Service{Store: store, Enabled: true}}
	cfg := HTTPConfig{
		Action:   "matrix.upload",
		Resource: "matrix",
		IDParams: []string{"productID", "fieldID", "siteID"},
		MetadataFunc: func(r *http.Request, status int) map[string]any {
			return map[string]any{"tier": r.URL.Query().Get("tier"), "status": status}
		},
	}

	r := chi.NewRouter()
	r.With(rec.Middleware(cfg)).Put("/matrices/{productID}/{fieldID}/{siteID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	req := httptest.NewRequest(http.MethodPut, "/matrices/7/0/2?tier=promotional", strings.NewReader(",1\n1,x\n"))
	r.ServeHTTP(httptest.NewRecorder(), req)

	if !store.called {
		t.Fatal("expected an audit entry")
	}
	got := store.lastInsert
	if got.Action != "matrix.upload" || got.Resource != "matrix" || got.ResourceID != "7/0/2" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected rejected upload to be audited with 422, got %d", got.Status)
	}
	var meta map[string]any
	if err := json.Unmarshal(got.Metadata, &meta); err != nil {
		t.Fatalf("metadata json: %v", err)
	}
	if meta["tier"] != "promotional" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: Service{Store: store}}
	h := rec.Middleware(HTTPConfig{Action: "matrix.clear"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/matrices/7/0/0", nil))
	if rr.Code != http.StatusAccepted || store.called {
		t.Fatalf("expected pass-through without audit, got %d called=%v", rr.Code, store.called)
	}
}
