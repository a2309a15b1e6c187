package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-pricing-matrix/internal/common"
	"github.com/noah-isme/toko-pricing-matrix/internal/obs"
)

// ActorHeader names the operator performing an admin change. Authentication sits in front of the
// service, so the value is recorded as supplied.
const ActorHeader = "X-Actor"

// Entry is one recorded admin change.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resourceId,omitempty"`
	Method     string          `json:"method"`
	Path       string          `json:"path"`
	Route      string          `json:"route,omitempty"`
	Status     int             `json:"status"`
	IP         string          `json:"ip,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Store defines the persistence required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, entry Entry) error
	ListAuditLogs(ctx context.Context, limit, offset int) ([]Entry, error)
}

// Service persists audit entries for matrix administration.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
	Now          func() time.Time
}

// Record persists an audit entry when auditing is enabled.
func (s Service) Record(ctx context.Context, action, resource, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	if status == 0 {
		status = http.StatusOK
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	return s.Store.InsertAuditLog(ctx, Entry{
		ID:         uuid.New(),
		Actor:      actorOf(req),
		Action:     buildAction(action, req.Method, route),
		Resource:   buildResource(resource, route),
		ResourceID: strings.TrimSpace(resourceID),
		Method:     req.Method,
		Path:       req.URL.Path,
		Route:      route,
		Status:     status,
		IP:         common.ClientIP(req),
		UserAgent:  strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:  strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:   toJSON(metadata, req.URL.RawQuery),
		CreatedAt:  now().UTC(),
	})
}

func actorOf(req *http.Request) string {
	if actor := strings.TrimSpace(req.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return "anonymous"
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	target := route
	if target == "" {
		target = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + target
}

func buildResource(resource, route string) string {
	trimmed := strings.TrimSpace(resource)
	if trimmed != "" {
		return trimmed
	}
	route = strings.TrimSpace(route)
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	kept := segments[:0]
	for _, seg := range segments {
		if strings.HasPrefix(seg, "{") {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, ".")
}

func toJSON(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
