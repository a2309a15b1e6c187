package ingest

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing-matrix/internal/common"
	"github.com/noah-isme/toko-pricing-matrix/internal/lock"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

const defaultMaxUpload = 5 << 20

// AdminHandler manages matrix uploads. Uploads are validated eagerly, stored as sources under the
// ingestion lock and ingested by the worker.
type AdminHandler struct {
	Sources        matrix.SourceStore
	Queue          Enqueuer
	Ingestor       *Ingestor
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

type uploadResponse struct {
	Scope matrix.Scope `json:"scope"`
	Tier  matrix.Tier  `json:"tier"`
	Cells int          `json:"cells"`
}

// Put handles PUT /api/v1/admin/matrices/{productID}/{fieldID}/{siteID}. An empty body removes
// the matrix.
func (h *AdminHandler) Put(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromPath(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	tier, err := matrix.ParseTier(r.URL.Query().Get("tier"))
	if err != nil {
		common.WriteError(w, common.BadRequest(err.Error(), nil))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "matrix upload too large", nil)
			return
		}
		common.WriteError(w, common.BadRequest("could not read request body", nil))
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		h.clear(w, r, scope)
		return
	}

	asset := &matrix.Asset{
		Filename:    uploadFilename(r),
		ContentType: strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0]),
		Contents:    body,
	}
	grid, err := matrix.ParseSource(asset.ContentType, asset.Filename, asset.Contents)
	if err != nil {
		writeMalformed(w, err)
		return
	}
	records, err := matrix.BuildRecords(scope, tier, grid)
	if err != nil {
		writeMalformed(w, err)
		return
	}

	ctx := r.Context()
	err = h.exclusive(ctx, scope, func(ctx context.Context) error {
		return h.Sources.PutSource(ctx, matrix.Source{Scope: scope, Tier: tier, Asset: asset})
	})
	if err != nil {
		h.writeSourceError(w, scope, "store matrix source", err)
		return
	}
	if err := Schedule(ctx, h.Queue, scope.ProductID, scope.SiteID); err != nil {
		h.Logger.Error().Err(err).Str("scope", scope.String()).Msg("schedule matrix ingestion")
		common.WriteError(w, common.Internal(err))
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{
		"data": uploadResponse{Scope: scope, Tier: tier, Cells: len(records)},
	})
}

// Delete handles DELETE /api/v1/admin/matrices/{productID}/{fieldID}/{siteID}.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromPath(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.clear(w, r, scope)
}

func (h *AdminHandler) clear(w http.ResponseWriter, r *http.Request, scope matrix.Scope) {
	ctx := r.Context()
	err := h.exclusive(ctx, scope, func(ctx context.Context) error {
		return h.Sources.ClearSource(ctx, scope)
	})
	if err != nil {
		h.writeSourceError(w, scope, "clear matrix source", err)
		return
	}
	if err := Schedule(ctx, h.Queue, scope.ProductID, scope.SiteID); err != nil {
		h.Logger.Error().Err(err).Str("scope", scope.String()).Msg("schedule matrix ingestion")
		common.WriteError(w, common.Internal(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// List handles GET /api/v1/admin/matrices/{productID}?siteId=.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	productID, siteID, err := productSite(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	sources, err := h.Sources.ListSources(r.Context(), productID, siteID)
	if err != nil {
		common.WriteError(w, common.Internal(err))
		return
	}
	if sources == nil {
		sources = []matrix.Source{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sources})
}

// Ingest handles POST /api/v1/admin/matrices/{productID}/ingest?siteId=. With sync=true the pass
// runs inline and its results are returned.
func (h *AdminHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	productID, siteID, err := productSite(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()
	if r.URL.Query().Get("sync") != "true" {
		if err := Schedule(ctx, h.Queue, productID, siteID); err != nil {
			common.WriteError(w, common.Internal(err))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if h.Ingestor == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "ingestor not configured", nil)
		return
	}
	results, err := h.Ingestor.IngestProduct(ctx, productID, siteID)
	if err != nil {
		if errors.Is(err, matrix.ErrMalformedMatrix) {
			writeMalformed(w, err)
			return
		}
		common.WriteError(w, common.Internal(err))
		return
	}
	if results == nil {
		results = []Result{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": results})
}

func (h *AdminHandler) exclusive(ctx context.Context, scope matrix.Scope, fn func(context.Context) error) error {
	if h.Ingestor == nil {
		return fn(ctx)
	}
	return h.Ingestor.Exclusive(ctx, scope.ProductID, scope.SiteID, fn)
}

func (h *AdminHandler) writeSourceError(w http.ResponseWriter, scope matrix.Scope, msg string, err error) {
	if errors.Is(err, lock.ErrNotAcquired) {
		w.Header().Set("Retry-After", "1")
		common.JSONError(w, http.StatusServiceUnavailable, "INGESTION_BUSY", "matrix ingestion in progress, retry shortly", nil)
		return
	}
	h.Logger.Error().Err(err).Str("scope", scope.String()).Msg(msg)
	common.WriteError(w, common.Internal(err))
}

func (h *AdminHandler) maxUpload() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUpload
}

func scopeFromPath(r *http.Request) (matrix.Scope, error) {
	productID, err := common.PathID(r, "productID")
	if err != nil {
		return matrix.Scope{}, err
	}
	fieldID, err := common.PathID(r, "fieldID")
	if err != nil {
		return matrix.Scope{}, err
	}
	siteID, err := common.PathID(r, "siteID")
	if err != nil {
		return matrix.Scope{}, err
	}
	return matrix.Scope{ProductID: productID, FieldID: fieldID, SiteID: siteID}, nil
}

func productSite(r *http.Request) (int64, int64, error) {
	productID, err := common.PathID(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	siteID, err := common.QueryID(r, "siteId", 0)
	if err != nil {
		return 0, 0, err
	}
	if siteID == 0 {
		return 0, 0, common.BadRequest("siteId is required", nil)
	}
	return productID, siteID, nil
}

func uploadFilename(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get("X-Filename")); name != "" {
		return name
	}
	if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition")); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	return "matrix.csv"
}

func writeMalformed(w http.ResponseWriter, err error) {
	var details any
	var malformed *matrix.MalformedError
	if errors.As(err, &malformed) && malformed.Line > 0 {
		details = map[string]int{"line": malformed.Line}
	}
	common.JSONError(w, http.StatusUnprocessableEntity, "MALFORMED_MATRIX", err.Error(), details)
}
