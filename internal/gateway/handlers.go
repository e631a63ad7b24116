package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nordcart/dibs-gateway/internal/common"
	"github.com/nordcart/dibs-gateway/internal/dibs"
	"github.com/nordcart/dibs-gateway/internal/lock"
	"github.com/nordcart/dibs-gateway/internal/obs"
)

// Handler exposes the payment-form endpoint for the storefront and the two
// callback endpoints DIBS posts to.
type Handler struct {
	// Enabled is false when the store currency is not an invoice market or
	// the merchant credentials are missing; every endpoint then answers 503
	// instead of running unsigned.
	Enabled bool
	Store   OrderStore
	Builder dibs.Builder
	Recon   *Reconciler
	// Locker serialises the IPN and the browser return racing to reconcile
	// the same order.
	Locker  lock.Locker
	LockTTL time.Duration
	Log     zerolog.Logger
}

type formField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type formResponse struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	Fields []formField `json:"fields"`
}

// PaymentForm builds the signed redirect form for an order and returns it as
// an ordered field list for the external renderer to emit as hidden inputs.
func (h Handler) PaymentForm(w http.ResponseWriter, r *http.Request) {
	if !h.Enabled {
		common.JSONError(w, http.StatusServiceUnavailable, "GATEWAY_DISABLED", "DIBS gateway is not configured for the store currency", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be numeric", nil)
		return
	}
	o, err := h.Store.Get(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}
	fields, err := h.Builder.Build(o)
	if err != nil {
		if obs.PaymentFormTotal != nil {
			obs.PaymentFormTotal.WithLabelValues(h.Builder.Market.Currency, "error").Inc()
		}
		common.JSONError(w, http.StatusConflict, "FORM_BUILD_FAILED", err.Error(), nil)
		return
	}
	if obs.PaymentFormTotal != nil {
		obs.PaymentFormTotal.WithLabelValues(h.Builder.Market.Currency, "success").Inc()
	}

	resp := formResponse{Action: dibs.PaymentWindowURL, Method: http.MethodPost}
	for _, name := range fields.Keys() {
		value, _ := fields.Get(name)
		resp.Fields = append(resp.Fields, formField{Name: name, Value: value})
	}
	h.Log.Debug().Int64("order_id", id).Int("fields", len(resp.Fields)).
		Msg("payment form built")
	common.JSON(w, http.StatusOK, resp)
}

// Callback receives the accept/notification POST from DIBS. Both the
// asynchronous delivery and the shopper's browser return land here.
func (h Handler) Callback(w http.ResponseWriter, r *http.Request) {
	h.handleInbound(w, r, h.Recon.ProcessCallback)
}

// Cancel receives the cancel-return POST from DIBS.
func (h Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.handleInbound(w, r, h.Recon.ProcessCancel)
}

func (h Handler) handleInbound(w http.ResponseWriter, r *http.Request, process func(ctx context.Context, fields *dibs.FieldMap) (Outcome, error)) {
	if !h.Enabled {
		common.JSONError(w, http.StatusServiceUnavailable, "GATEWAY_DISABLED", "DIBS gateway is not configured for the store currency", nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to parse form payload", nil)
		return
	}
	// r.Form merges body and query parameters: the notification arrives as a
	// POST form while the browser return may carry the fields in the query.
	fields := dibs.FromValues(r.Form)
	id, err := orderIDFromFields(fields)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_CALLBACK", "missing or non-numeric order id", nil)
		return
	}

	var out Outcome
	lockKey := "dibs:reconcile:" + strconv.FormatInt(id, 10)
	err = h.Locker.WithLock(r.Context(), lockKey, h.LockTTL, func(ctx context.Context) error {
		var perr error
		out, perr = process(ctx, fields)
		return perr
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCallback):
			common.JSONError(w, http.StatusBadRequest, "INVALID_CALLBACK", err.Error(), nil)
		case errors.Is(err, ErrOrderNotFound):
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error(), nil)
		default:
			h.Log.Error().Err(err).Int64("order_id", id).Msg("callback processing failed")
			common.JSONError(w, http.StatusInternalServerError, "CALLBACK_ERROR", "callback processing failed", nil)
		}
		return
	}

	if out.Action == ActionRejected {
		// Security rejection: terminate without sending the shopper to the
		// order-received page.
		common.JSONError(w, http.StatusForbidden, "INVALID_SIGNATURE", "MAC verification failed", nil)
		return
	}
	if out.Message != "" {
		h.Log.Info().Int64("order_id", out.OrderID).Str("action", string(out.Action)).
			Msg(out.Message)
	}
	http.Redirect(w, r, out.RedirectURL, http.StatusSeeOther)
}
