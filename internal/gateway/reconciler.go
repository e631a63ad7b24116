package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nordcart/dibs-gateway/internal/dibs"
	"github.com/nordcart/dibs-gateway/internal/obs"
	"github.com/nordcart/dibs-gateway/internal/order"
)

var (
	// ErrInvalidCallback marks payloads that are not Payment Window
	// callbacks: missing transaction reference or non-numeric order id.
	ErrInvalidCallback = errors.New("not a payment window callback")
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")
)

// OrderStore is the slice of order persistence the reconciler needs. The
// surrounding commerce system owns order storage; every transition here must
// be at least as atomic as a compare-and-set on status.
type OrderStore interface {
	Get(ctx context.Context, id int64) (*order.Order, error)
	// PaymentComplete moves a pending order to processing and records the
	// DIBS transaction reference as an order note. It reports false when the
	// order was no longer in a payable state, i.e. a racing callback won.
	PaymentComplete(ctx context.Context, id int64, transaction string) (bool, error)
	// MarkFailed transitions a pending order to failed with a reason note.
	MarkFailed(ctx context.Context, id int64, reason string) error
	// Cancel transitions a pending order to cancelled and releases reserved
	// stock. It reports false when the order was no longer pending.
	Cancel(ctx context.Context, id int64, reason string) (bool, error)
}

// Action classifies what a processed callback did to the order.
type Action string

const (
	// ActionDuplicate: the order was already reconciled; nothing changed.
	ActionDuplicate Action = "duplicate"
	// ActionRejected: MAC verification failed; the order was failed and the
	// shopper gets no thank-you redirect.
	ActionRejected Action = "rejected"
	// ActionCompleted: payment confirmed, order marked paid.
	ActionCompleted Action = "completed"
	// ActionFailed: DIBS declined or errored the transaction.
	ActionFailed Action = "failed"
	// ActionIgnored: unrecognised status token, no state change.
	ActionIgnored Action = "ignored"
	// ActionCancelled: shopper-initiated cancellation of a pending order.
	ActionCancelled Action = "cancelled"
	// ActionNotPending: cancellation arrived for an already reconciled order.
	ActionNotPending Action = "not_pending"
	// ActionInvalid: cancellation with a bad MAC or unknown order.
	ActionInvalid Action = "invalid"
)

// Outcome describes the order transition a callback produced and where the
// shopper should be sent next. RedirectURL is empty for security rejections;
// those terminate without a redirect.
type Outcome struct {
	Action      Action
	OrderID     int64
	Transaction string
	RedirectURL string
	Message     string
}

// Reconciler validates inbound callbacks and maps the reported transaction
// status onto idempotent order transitions.
type Reconciler struct {
	Store  OrderStore
	Secret []byte
	// ThankYou yields the order-received destination for a reconciled order.
	ThankYou func(o *order.Order) string
	// CartURL is where cancellations send the shopper back to.
	CartURL string
	Log     zerolog.Logger
}

// ProcessCallback handles the accept/callback endpoint: both the
// asynchronous notification and the synchronous browser return arrive here,
// possibly for the same transaction. The duplicate check on order status is
// the idempotency guard; there is no transaction-id dedup table.
func (r *Reconciler) ProcessCallback(ctx context.Context, fields *dibs.FieldMap) (Outcome, error) {
	ctx, span := otel.Tracer("gateway.Reconciler").Start(ctx, "Reconciler.ProcessCallback")
	defer span.End()

	out := Outcome{Action: ActionIgnored}
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int64("order.id", out.OrderID),
			attribute.String("callback.action", string(out.Action)),
		)
		if obs.CallbackTotal != nil {
			obs.CallbackTotal.WithLabelValues("callback", string(out.Action)).Inc()
		}
		if obs.ReconcileLatency != nil {
			obs.ReconcileLatency.WithLabelValues("callback").Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	transaction, ok := fields.Get("transaction")
	if !ok || transaction == "" {
		return out, ErrInvalidCallback
	}
	id, err := orderIDFromFields(fields)
	if err != nil {
		return out, err
	}
	out.OrderID = id
	out.Transaction = transaction

	o, err := r.Store.Get(ctx, id)
	if err != nil {
		return out, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}

	// Already reconciled by the other delivery. No MAC check, no state
	// change, just send the shopper on to the order-received page.
	if o.Status.Terminal() {
		r.Log.Debug().Int64("order_id", id).Str("status", string(o.Status)).
			Msg("duplicate callback for reconciled order")
		out.Action = ActionDuplicate
		out.RedirectURL = r.ThankYou(o)
		return out, nil
	}

	if !dibs.VerifyMAC(fields, r.Secret) {
		reason := fmt.Sprintf("MAC check failed for DIBS callback, transaction %s", strings.ToLower(transaction))
		if err := r.Store.MarkFailed(ctx, id, reason); err != nil {
			return out, err
		}
		r.Log.Warn().Int64("order_id", id).Str("transaction", transaction).
			Msg("callback rejected: MAC mismatch")
		out.Action = ActionRejected
		return out, nil
	}

	status, _ := fields.Get("status")
	switch strings.ToLower(status) {
	case "accepted", "pending":
		done, err := r.Store.PaymentComplete(ctx, id, transaction)
		if err != nil {
			return out, err
		}
		if !done {
			// lost the compare-and-set to the concurrent delivery
			out.Action = ActionDuplicate
			out.RedirectURL = r.ThankYou(o)
			return out, nil
		}
		r.Log.Info().Int64("order_id", id).Str("transaction", transaction).
			Msg("DIBS payment completed")
		out.Action = ActionCompleted
	case "declined", "error":
		reason := fmt.Sprintf("Payment %s via DIBS, transaction %s", strings.ToLower(status), transaction)
		if err := r.Store.MarkFailed(ctx, id, reason); err != nil {
			return out, err
		}
		r.Log.Info().Int64("order_id", id).Str("status", status).Msg("DIBS payment failed")
		out.Action = ActionFailed
	default:
		r.Log.Debug().Int64("order_id", id).Str("status", status).
			Msg("unrecognised callback status, no action")
		out.Action = ActionIgnored
	}

	out.RedirectURL = r.ThankYou(o)
	return out, nil
}

// ProcessCancel handles the cancel-return endpoint. Only a pending order
// with a valid MAC is cancelled; anything else is reported without touching
// state.
func (r *Reconciler) ProcessCancel(ctx context.Context, fields *dibs.FieldMap) (Outcome, error) {
	ctx, span := otel.Tracer("gateway.Reconciler").Start(ctx, "Reconciler.ProcessCancel")
	defer span.End()

	out := Outcome{Action: ActionInvalid, RedirectURL: r.CartURL}
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int64("order.id", out.OrderID),
			attribute.String("callback.action", string(out.Action)),
		)
		if obs.CallbackTotal != nil {
			obs.CallbackTotal.WithLabelValues("cancel", string(out.Action)).Inc()
		}
		if obs.ReconcileLatency != nil {
			obs.ReconcileLatency.WithLabelValues("cancel").Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	id, err := orderIDFromFields(fields)
	if err != nil {
		return out, err
	}
	out.OrderID = id

	o, err := r.Store.Get(ctx, id)
	if err != nil || !dibs.VerifyMAC(fields, r.Secret) {
		out.Message = "Invalid order."
		return out, nil
	}
	if o.Status != order.StatusPending {
		out.Action = ActionNotPending
		out.Message = "Your order is no longer pending and could not be cancelled."
		return out, nil
	}

	done, err := r.Store.Cancel(ctx, id, "Order cancelled by customer.")
	if err != nil {
		return out, err
	}
	if !done {
		out.Action = ActionNotPending
		out.Message = "Your order is no longer pending and could not be cancelled."
		return out, nil
	}
	r.Log.Info().Int64("order_id", id).Msg("order cancelled by customer")
	out.Action = ActionCancelled
	out.Message = "Your order was cancelled."
	return out, nil
}

// orderIDFromFields extracts the numeric order id. The Payment Window is not
// consistent about the field casing: the notification posts orderID, the
// form echo carries orderId.
func orderIDFromFields(fields *dibs.FieldMap) (int64, error) {
	raw, ok := fields.Get("orderID")
	if !ok || raw == "" {
		raw, ok = fields.Get("orderId")
	}
	if !ok || raw == "" {
		return 0, ErrInvalidCallback
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidCallback
	}
	return id, nil
}
