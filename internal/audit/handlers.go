package audit

import (
	"net/http"

	"github.com/noah-isme/toko-pricing-matrix/internal/common"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler serves the admin change trail.
type Handler struct {
	Store Store
}

type listResponse struct {
	Data       []Entry `json:"data"`
	Limit      int     `json:"limit"`
	Offset     int     `json:"offset"`
	NextOffset *int    `json:"nextOffset,omitempty"`
}

// List pages through audit entries, newest first. NextOffset is set while a full page came back.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "AUDIT_DISABLED", "audit trail is not enabled", nil)
		return
	}
	page := common.ParsePage(r, defaultPageSize, maxPageSize)
	rows, err := h.Store.ListAuditLogs(r.Context(), page.Limit, page.Offset)
	if err != nil {
		common.WriteError(w, common.Internal(err))
		return
	}
	resp := listResponse{Data: rows, Limit: page.Limit, Offset: page.Offset}
	if resp.Data == nil {
		resp.Data = []Entry{}
	}
	if len(rows) == page.Limit {
		next := page.Offset + page.Limit
		resp.NextOffset = &next
	}
	common.JSON(w, http.StatusOK, resp)
}
