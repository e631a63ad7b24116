package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nordcart/dibs-gateway/internal/dibs"
	"github.com/nordcart/dibs-gateway/internal/gateway"
	"github.com/nordcart/dibs-gateway/internal/order"
)

type stubStore struct {
	orders map[int64]*order.Order

	completed   []string
	failed      []string
	cancelled   []string
	completeOK  bool
	cancelOK    bool
	completeErr error
}

func newStubStore(o *order.Order) *stubStore {
	return &stubStore{
		orders:     map[int64]*order.Order{o.ID: o},
		completeOK: true,
		cancelOK:   true,
	}
}

func (s *stubStore) Get(_ context.Context, id int64) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return o, nil
}

func (s *stubStore) PaymentComplete(_ context.Context, id int64, transaction string) (bool, error) {
	if s.completeErr != nil {
		return false, s.completeErr
	}
	if !s.completeOK {
		return false, nil
	}
	s.completed = append(s.completed, transaction)
	s.orders[id].Status = order.StatusProcessing
	return true, nil
}

func (s *stubStore) MarkFailed(_ context.Context, id int64, reason string) error {
	s.failed = append(s.failed, reason)
	s.orders[id].Status = order.StatusFailed
	return nil
}

func (s *stubStore) Cancel(_ context.Context, id int64, reason string) (bool, error) {
	if !s.cancelOK {
		return false, nil
	}
	s.cancelled = append(s.cancelled, reason)
	s.orders[id].Status = order.StatusCancelled
	return true, nil
}

var testSecret = []byte("secret-key")

func pendingOrder() *order.Order {
	return &order.Order{
		ID:       42,
		Status:   order.StatusPending,
		Currency: "SEK",
		Total:    decimal.RequireFromString("250.00"),
	}
}

func newReconciler(s *stubStore) *gateway.Reconciler {
	return &gateway.Reconciler{
		Store:    s,
		Secret:   testSecret,
		ThankYou: func(o *order.Order) string { return "https://shop.example.com/thanks" },
		CartURL:  "https://shop.example.com/cart",
		Log:      zerolog.Nop(),
	}
}

// signedFields builds a callback payload with a MAC computed under the given
// secret.
func signedFields(secret []byte, pairs map[string]string) *dibs.FieldMap {
	fm := dibs.NewFieldMap()
	for k, v := range pairs {
		fm.Set(k, v)
	}
	fm.Set(dibs.FieldMAC, dibs.ComputeMAC(fm, secret))
	return fm
}

func TestCallbackAcceptedCompletesOrder(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionCompleted, out.Action)
	require.Equal(t, []string{"T-1001"}, store.completed)
	require.Equal(t, "https://shop.example.com/thanks", out.RedirectURL)
}

func TestCallbackPendingStatusAlsoCompletes(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "PENDING",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionCompleted, out.Action)
}

func TestCallbackDuplicateSkipsMACCheck(t *testing.T) {
	o := pendingOrder()
	o.Status = order.StatusProcessing
	store := newStubStore(o)

	// signed under the wrong key: a terminal order must short-circuit
	// before verification
	fields := signedFields([]byte("wrong-key"), map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionDuplicate, out.Action)
	require.Empty(t, store.completed)
	require.Empty(t, store.failed)
	require.Equal(t, "https://shop.example.com/thanks", out.RedirectURL)
}

func TestCallbackInvalidMACFailsOrderWithoutRedirect(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields([]byte("wrong-key"), map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionRejected, out.Action)
	require.Empty(t, out.RedirectURL)
	require.Len(t, store.failed, 1)
	require.Contains(t, store.failed[0], "MAC check failed")
	require.Contains(t, store.failed[0], "t-1001")
}

func TestCallbackDeclinedFailsOrder(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "DECLINED",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionFailed, out.Action)
	require.Len(t, store.failed, 1)
	require.Equal(t, "https://shop.example.com/thanks", out.RedirectURL)
}

func TestCallbackUnknownStatusIgnored(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "SOMETHING_NEW",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionIgnored, out.Action)
	require.Empty(t, store.completed)
	require.Empty(t, store.failed)
	require.Equal(t, "https://shop.example.com/thanks", out.RedirectURL)
}

func TestCallbackLostRaceReportsDuplicate(t *testing.T) {
	store := newStubStore(pendingOrder())
	store.completeOK = false
	fields := signedFields(testSecret, map[string]string{
		"orderID":     "42",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionDuplicate, out.Action)
}

func TestCallbackMissingTransaction(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{
		"orderID": "42",
		"status":  "ACCEPTED",
	})

	_, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.ErrorIs(t, err, gateway.ErrInvalidCallback)
}

func TestCallbackAcceptsLowercaseOrderIDField(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{
		"orderId":     "42",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	})

	out, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionCompleted, out.Action)
}

func TestCallbackUnknownOrder(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{
		"orderID":     "77",
		"transaction": "T-1001",
		"status":      "ACCEPTED",
	})

	_, err := newReconciler(store).ProcessCallback(context.Background(), fields)
	require.ErrorIs(t, err, gateway.ErrOrderNotFound)
}

func TestCancelPendingOrder(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{"orderID": "42"})

	out, err := newReconciler(store).ProcessCancel(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionCancelled, out.Action)
	require.Len(t, store.cancelled, 1)
	require.Equal(t, "https://shop.example.com/cart", out.RedirectURL)
}

func TestCancelInvalidMACLeavesOrderAlone(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields([]byte("wrong-key"), map[string]string{"orderID": "42"})

	out, err := newReconciler(store).ProcessCancel(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionInvalid, out.Action)
	require.Empty(t, store.cancelled)
	require.Empty(t, store.failed)
	require.Equal(t, "Invalid order.", out.Message)
}

func TestCancelReconciledOrderNotPending(t *testing.T) {
	o := pendingOrder()
	o.Status = order.StatusProcessing
	store := newStubStore(o)
	fields := signedFields(testSecret, map[string]string{"orderID": "42"})

	out, err := newReconciler(store).ProcessCancel(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionNotPending, out.Action)
	require.Empty(t, store.cancelled)
}

func TestCancelUnknownOrder(t *testing.T) {
	store := newStubStore(pendingOrder())
	fields := signedFields(testSecret, map[string]string{"orderID": "77"})

	out, err := newReconciler(store).ProcessCancel(context.Background(), fields)
	require.NoError(t, err)
	require.Equal(t, gateway.ActionInvalid, out.Action)
}
