package common

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// PathID parses a positive int64 route parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, BadRequest(fmt.Sprintf("%s must be a positive integer", name), nil)
	}
	return id, nil
}

// QueryID parses an int64 query parameter, returning def when it is absent.
func QueryID(r *http.Request, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, BadRequest(fmt.Sprintf("%s must be a non-negative integer", name), nil)
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter. An absent or blank value yields nil.
func QueryInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, BadRequest(fmt.Sprintf("%s must be an integer", name), nil)
	}
	return &v, nil
}
