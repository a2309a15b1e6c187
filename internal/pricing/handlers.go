package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing-matrix/internal/common"
	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
	"github.com/noah-isme/toko-pricing-matrix/internal/resilience"
)

// Handler exposes public price lookup endpoints.
type Handler struct {
	resolver *Resolver
	pricer   *Pricer
	validate *validator.Validate
	logger   zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Resolver  *Resolver
	Pricer    *Pricer
	Validator *validator.Validate
	Logger    zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	pricer := cfg.Pricer
	if pricer == nil {
		pricer = &Pricer{Resolver: cfg.Resolver}
	}
	return &Handler{resolver: cfg.Resolver, pricer: pricer, validate: v, logger: cfg.Logger}
}

type recordView struct {
	FieldID int64       `json:"fieldId"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Price   string      `json:"price"`
	Tier    matrix.Tier `json:"tier"`
}

func viewOf(rec *matrix.Record) *recordView {
	if rec == nil {
		return nil
	}
	return &recordView{
		FieldID: rec.Scope.FieldID,
		Width:   rec.Width,
		Height:  rec.Height,
		Price:   rec.Price.StringFixed(matrix.PricePlaces),
		Tier:    rec.Tier,
	}
}

// Price handles GET /api/v1/products/{productID}/price.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	scope, tier, err := lookupParams(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	width, err := queryDimension(r, "width")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	height, err := queryDimension(r, "height")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	rec, err := h.resolver.Resolve(r.Context(), scope, tier, width, height)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		common.WriteError(w, common.NotFound("no price covers the requested dimensions"))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(rec)})
}

// Bounds handles GET /api/v1/products/{productID}/bounds.
func (h *Handler) Bounds(w http.ResponseWriter, r *http.Request) {
	scope, tier, err := lookupParams(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	lowest, err := h.resolver.MinDimensions(r.Context(), scope, tier)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if lowest == nil {
		common.WriteError(w, common.NotFound("product has no pricing matrix"))
		return
	}
	highest, err := h.resolver.MaxDimensions(r.Context(), scope, tier)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"min": viewOf(lowest), "max": viewOf(highest)},
	})
}

type lineItemRequest struct {
	ProductID       int64           `json:"productId" validate:"required,gt=0"`
	SiteID          int64           `json:"siteId" validate:"required,gt=0"`
	PairedProductID int64           `json:"pairedProductId" validate:"omitempty,gt=0,nefield=ProductID"`
	Width           *int            `json:"width" validate:"omitempty,gte=0,lte=2147483646"`
	Height          *int            `json:"height" validate:"omitempty,gte=0,lte=2147483646"`
	OnSale          bool            `json:"onSale"`
	Price           decimal.Decimal `json:"price"`
	SalePrice       decimal.Decimal `json:"salePrice"`
	SaleAmount      decimal.Decimal `json:"saleAmount"`
}

type lineItemView struct {
	ProductID  int64  `json:"productId"`
	SiteID     int64  `json:"siteId"`
	Width      *int   `json:"width"`
	Height     *int   `json:"height"`
	Price      string `json:"price"`
	SalePrice  string `json:"salePrice"`
	SaleAmount string `json:"saleAmount"`
}

// PriceLineItem handles POST /api/v1/line-items/price. Items without a covering match come back
// unchanged.
func (h *Handler) PriceLineItem(w http.ResponseWriter, r *http.Request) {
	var req lineItemRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		common.WriteError(w, common.BadRequest("invalid JSON body", nil))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.WriteError(w, common.BadRequest("validation failed", validationDetails(err)))
		return
	}

	item := LineItem{
		ProductID:  req.ProductID,
		SiteID:     req.SiteID,
		Width:      req.Width,
		Height:     req.Height,
		Price:      req.Price,
		SalePrice:  req.SalePrice,
		SaleAmount: req.SaleAmount,
	}
	var (
		priced LineItem
		err    error
	)
	if req.PairedProductID > 0 {
		priced, err = h.pricer.PricePaired(r.Context(), item, req.PairedProductID, req.Width, req.Height, req.OnSale)
	} else {
		priced, err = h.pricer.Price(r.Context(), item, req.Width, req.Height, req.OnSale)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": lineItemView{
		ProductID:  priced.ProductID,
		SiteID:     priced.SiteID,
		Width:      priced.Width,
		Height:     priced.Height,
		Price:      priced.Price.StringFixed(matrix.PricePlaces),
		SalePrice:  priced.SalePrice.StringFixed(matrix.PricePlaces),
		SaleAmount: priced.SaleAmount.StringFixed(matrix.PricePlaces),
	}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, resilience.ErrOpenCircuit) {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "pricing store unavailable", nil)
		return
	}
	if errors.Is(err, matrix.ErrDimensionRange) {
		common.WriteError(w, common.BadRequest(dimensionMessage, nil))
		return
	}
	if !common.IsAppError(err) {
		h.logger.Error().Err(err).Msg("price lookup failed")
	}
	common.WriteError(w, err)
}

var dimensionMessage = fmt.Sprintf("width and height must be between 0 and %d", matrix.MaxDimension)

func queryDimension(r *http.Request, name string) (*int, error) {
	v, err := common.QueryInt(r, name)
	if err != nil || v == nil {
		return v, err
	}
	if !matrix.ValidDimension(*v) {
		return nil, common.BadRequest(fmt.Sprintf("%s must be between 0 and %d", name, matrix.MaxDimension), nil)
	}
	return v, nil
}

func lookupParams(r *http.Request) (matrix.Scope, matrix.Tier, error) {
	productID, err := common.PathID(r, "productID")
	if err != nil {
		return matrix.Scope{}, 0, err
	}
	siteID, err := common.QueryID(r, "siteId", 0)
	if err != nil {
		return matrix.Scope{}, 0, err
	}
	if siteID == 0 {
		return matrix.Scope{}, 0, common.BadRequest("siteId is required", nil)
	}
	fieldID, err := common.QueryID(r, "fieldId", matrix.AnyField)
	if err != nil {
		return matrix.Scope{}, 0, err
	}
	tier, err := matrix.ParseTier(r.URL.Query().Get("tier"))
	if err != nil {
		return matrix.Scope{}, 0, common.BadRequest(err.Error(), nil)
	}
	return matrix.Scope{ProductID: productID, FieldID: fieldID, SiteID: siteID}, tier, nil
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func validationDetails(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	case "nefield":
		return fe.Field() + " must differ from " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
