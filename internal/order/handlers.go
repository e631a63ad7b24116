package order

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/nordcart/dibs-gateway/internal/common"
)

// Store is the persistence the order endpoints need.
type Store interface {
	Create(ctx context.Context, o *Order) (int64, error)
	Get(ctx context.Context, id int64) (*Order, error)
}

// Handler exposes the storefront-facing order snapshot endpoints: register a
// snapshot before redirecting the shopper to DIBS, fetch it afterwards.
type Handler struct {
	Store    Store
	Validate *validator.Validate
	// IsNotFound lets the wiring map the store's sentinel onto 404s.
	IsNotFound func(error) bool
}

type createItem struct {
	Name      string          `json:"name" validate:"required"`
	SKU       string          `json:"sku"`
	ProductID int64           `json:"productId"`
	Qty       int             `json:"qty" validate:"gte=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	UnitTax   decimal.Decimal `json:"unitTax"`
}

type createFee struct {
	Name  string          `json:"name" validate:"required"`
	Total decimal.Decimal `json:"total"`
	Tax   decimal.Decimal `json:"tax"`
}

type createReq struct {
	Currency string `json:"currency" validate:"required,len=3"`
	Billing  struct {
		FirstName  string `json:"firstName" validate:"required"`
		LastName   string `json:"lastName" validate:"required"`
		Address    string `json:"address" validate:"required"`
		Address2   string `json:"address2"`
		City       string `json:"city" validate:"required"`
		PostalCode string `json:"postalCode" validate:"required"`
		Email      string `json:"email" validate:"required,email"`
		Phone      string `json:"phone"`
	} `json:"billing"`
	Items         []createItem    `json:"items" validate:"required,min=1,dive"`
	ShippingTotal decimal.Decimal `json:"shippingTotal"`
	ShippingTax   decimal.Decimal `json:"shippingTax"`
	Discount      decimal.Decimal `json:"discount"`
	Fees          []createFee     `json:"fees" validate:"dive"`
	TotalTax      decimal.Decimal `json:"totalTax"`
	Total         decimal.Decimal `json:"total"`
}

// Create registers an order snapshot and returns its id. The snapshot is
// immutable from the gateway's point of view; only its status moves.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDERS_NOT_CONFIGURED", "order store unavailable", nil)
		return
	}
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
			return
		}
	}

	o := &Order{
		Status:        StatusPending,
		Currency:      req.Currency,
		ShippingTotal: req.ShippingTotal,
		ShippingTax:   req.ShippingTax,
		Discount:      req.Discount,
		TotalTax:      req.TotalTax,
		Total:         req.Total,
	}
	o.Billing = Billing(req.Billing)
	for _, it := range req.Items {
		o.Items = append(o.Items, Item(it))
	}
	for _, f := range req.Fees {
		o.Fees = append(o.Fees, Fee(f))
	}

	id, err := h.Store.Create(r.Context(), o)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDER_CREATE_FAILED", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"status": StatusPending,
	})
}

// Get returns the stored snapshot with its current status.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDERS_NOT_CONFIGURED", "order store unavailable", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be numeric", nil)
		return
	}
	o, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if h.IsNotFound != nil && h.IsNotFound(err) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "ORDER_FETCH_FAILED", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, o)
}
