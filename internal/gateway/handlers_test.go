package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nordcart/dibs-gateway/internal/dibs"
	"github.com/nordcart/dibs-gateway/internal/gateway"
	"github.com/nordcart/dibs-gateway/internal/lock"
	"github.com/nordcart/dibs-gateway/internal/order"
)

func testRouter(t *testing.T, h gateway.Handler) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/api/v1/orders/{orderID}/payment-form", h.PaymentForm)
	r.Post("/webhooks/dibs/callback", h.Callback)
	r.Post("/webhooks/dibs/cancel", h.Cancel)
	r.Get("/webhooks/dibs/cancel", h.Cancel)
	return r
}

func newHandler(t *testing.T, store *stubStore) gateway.Handler {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	market := dibs.Market{
		Currency:        "SEK",
		CurrencyNumeric: "752",
		Country:         "SE",
		Language:        "sv",
		MerchantID:      "123456",
		Secret:          testSecret,
	}
	return gateway.Handler{
		Enabled: true,
		Store:   store,
		Builder: dibs.Builder{
			Market:          market,
			CallbackURL:     "https://shop.example.com/webhooks/dibs/callback",
			AcceptReturnURL: "https://shop.example.com/webhooks/dibs/callback",
			CancelReturnURL: "https://shop.example.com/webhooks/dibs/cancel",
		},
		Recon:   newReconciler(store),
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL: time.Second,
		Log:     zerolog.Nop(),
	}
}

func postForm(t *testing.T, router http.Handler, path string, fields *dibs.FieldMap) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestPaymentFormResponse(t *testing.T) {
	o := pendingOrder()
	o.Items = []order.Item{{
		Name: "Widget", SKU: "SKU-1", Qty: 2,
		UnitPrice: decimal.RequireFromString("100.00"),
		UnitTax:   decimal.RequireFromString("25.00"),
	}}
	store := newStubStore(o)
	router := testRouter(t, newHandler(t, store))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/42/payment-form", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Action string `json:"action"`
		Method string `json:"method"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, dibs.PaymentWindowURL, resp.Action)
	require.Equal(t, http.MethodPost, resp.Method)

	byName := map[string]string{}
	for _, f := range resp.Fields {
		byName[f.Name] = f.Value
	}
	require.Equal(t, "123456", byName["merchant"])
	require.Equal(t, "ALL_INVOICES", byName["paytype"])
	require.Equal(t, "st;2;Widget;10000;2500;SKU-1", byName["oiRow1"])
	require.NotEmpty(t, byName["MAC"])
}

func TestPaymentFormUnknownOrder(t *testing.T) {
	store := newStubStore(pendingOrder())
	router := testRouter(t, newHandler(t, store))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/77/payment-form", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPaymentFormBadOrderID(t *testing.T) {
	store := newStubStore(pendingOrder())
	router := testRouter(t, newHandler(t, store))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/not-a-number/payment-form", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGatewayDisabled(t *testing.T) {
	store := newStubStore(pendingOrder())
	h := newHandler(t, store)
	h.Enabled = false
	router := testRouter(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/42/payment-form", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr2 := postForm(t, router, "/webhooks/dibs/callback", signedFields(testSecret, map[string]string{
		"orderID": "42", "transaction": "T-1", "status": "ACCEPTED",
	}))
	require.Equal(t, http.StatusServiceUnavailable, rr2.Code)
}

func TestCallbackEndpointRedirectsToThankYou(t *testing.T) {
	store := newStubStore(pendingOrder())
	router := testRouter(t, newHandler(t, store))

	rr := postForm(t, router, "/webhooks/dibs/callback", signedFields(testSecret, map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "https://shop.example.com/thanks", rr.Header().Get("Location"))
	require.Equal(t, []string{"T-1001"}, store.completed)
}

func TestCallbackEndpointRejectsBadMAC(t *testing.T) {
	store := newStubStore(pendingOrder())
	router := testRouter(t, newHandler(t, store))

	rr := postForm(t, router, "/webhooks/dibs/callback", signedFields([]byte("wrong-key"), map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	}))

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Empty(t, rr.Header().Get("Location"))
	require.Len(t, store.failed, 1)
}

func TestCallbackEndpointMissingOrderID(t *testing.T) {
	store := newStubStore(pendingOrder())
	router := testRouter(t, newHandler(t, store))

	rr := postForm(t, router, "/webhooks/dibs/callback", signedFields(testSecret, map[string]string{
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	}))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelEndpointRedirectsToCart(t *testing.T) {
	store := newStubStore(pendingOrder())
	router := testRouter(t, newHandler(t, store))

	rr := postForm(t, router, "/webhooks/dibs/cancel", signedFields(testSecret, map[string]string{
		"orderID": "42",
	}))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "https://shop.example.com/cart", rr.Header().Get("Location"))
	require.Len(t, store.cancelled, 1)
}

func TestCancelEndpointAcceptsQueryFields(t *testing.T) {
	store := newStubStore(pendingOrder())
	router := testRouter(t, newHandler(t, store))

	fields := signedFields(testSecret, map[string]string{"orderID": "42"})
	query := url.Values{}
	for _, k := range fields.Keys() {
		v, _ := fields.Get(k)
		query.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodGet, "/webhooks/dibs/cancel?"+query.Encode(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Len(t, store.cancelled, 1)
}
