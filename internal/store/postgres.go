package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nordcart/dibs-gateway/internal/order"
)

// ErrNotFound is returned when the referenced order does not exist.
var ErrNotFound = errors.New("order not found")

// Postgres persists order snapshots and the payment events the reconciler
// records against them. Status transitions are single conditional UPDATEs so
// two racing callbacks cannot both move the same order.
type Postgres struct {
	Pool *pgxpool.Pool
}

// Create inserts an order snapshot with its items and fees. The order starts
// pending with its stock counted as reserved.
func (s *Postgres) Create(ctx context.Context, o *order.Order) (int64, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (
			status, currency,
			billing_first_name, billing_last_name, billing_address, billing_address2,
			billing_city, billing_postal_code, billing_email, billing_phone,
			shipping_total, shipping_tax, discount_total, total_tax, order_total
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id`,
		string(order.StatusPending), o.Currency,
		o.Billing.FirstName, o.Billing.LastName, o.Billing.Address, o.Billing.Address2,
		o.Billing.City, o.Billing.PostalCode, o.Billing.Email, o.Billing.Phone,
		amount(o.ShippingTotal), amount(o.ShippingTax), amount(o.Discount),
		amount(o.TotalTax), amount(o.Total),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for pos, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, name, sku, product_id, qty, unit_price, unit_tax)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			id, pos+1, it.Name, it.SKU, it.ProductID, it.Qty, amount(it.UnitPrice), amount(it.UnitTax))
		if err != nil {
			return 0, fmt.Errorf("insert order item: %w", err)
		}
	}
	for _, f := range o.Fees {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_fees (order_id, name, line_total, line_tax)
			VALUES ($1,$2,$3,$4)`,
			id, f.Name, amount(f.Total), amount(f.Tax))
		if err != nil {
			return 0, fmt.Errorf("insert order fee: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// Get loads an order snapshot with its items and fees.
func (s *Postgres) Get(ctx context.Context, id int64) (*order.Order, error) {
	o := &order.Order{ID: id}
	var status string
	var shippingTotal, shippingTax, discount, totalTax, total string
	err := s.Pool.QueryRow(ctx, `
		SELECT status, currency,
			billing_first_name, billing_last_name, billing_address, billing_address2,
			billing_city, billing_postal_code, billing_email, billing_phone,
			shipping_total::text, shipping_tax::text, discount_total::text,
			total_tax::text, order_total::text
		FROM orders WHERE id = $1`, id).Scan(
		&status, &o.Currency,
		&o.Billing.FirstName, &o.Billing.LastName, &o.Billing.Address, &o.Billing.Address2,
		&o.Billing.City, &o.Billing.PostalCode, &o.Billing.Email, &o.Billing.Phone,
		&shippingTotal, &shippingTax, &discount, &totalTax, &total,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Status = order.ParseStatus(status)
	if o.ShippingTotal, err = decimal.NewFromString(shippingTotal); err != nil {
		return nil, fmt.Errorf("shipping_total: %w", err)
	}
	if o.ShippingTax, err = decimal.NewFromString(shippingTax); err != nil {
		return nil, fmt.Errorf("shipping_tax: %w", err)
	}
	if o.Discount, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("discount_total: %w", err)
	}
	if o.TotalTax, err = decimal.NewFromString(totalTax); err != nil {
		return nil, fmt.Errorf("total_tax: %w", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order_total: %w", err)
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT name, sku, product_id, qty, unit_price::text, unit_tax::text
		FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it order.Item
		var unitPrice, unitTax string
		if err := rows.Scan(&it.Name, &it.SKU, &it.ProductID, &it.Qty, &unitPrice, &unitTax); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("unit_price: %w", err)
		}
		if it.UnitTax, err = decimal.NewFromString(unitTax); err != nil {
			return nil, fmt.Errorf("unit_tax: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	feeRows, err := s.Pool.Query(ctx, `
		SELECT name, line_total::text, line_tax::text
		FROM order_fees WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer feeRows.Close()
	for feeRows.Next() {
		var f order.Fee
		var lineTotal, lineTax string
		if err := feeRows.Scan(&f.Name, &lineTotal, &lineTax); err != nil {
			return nil, err
		}
		if f.Total, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, fmt.Errorf("line_total: %w", err)
		}
		if f.Tax, err = decimal.NewFromString(lineTax); err != nil {
			return nil, fmt.Errorf("line_tax: %w", err)
		}
		o.Fees = append(o.Fees, f)
	}
	return o, feeRows.Err()
}

// PaymentComplete moves a pending order to processing and records the DIBS
// transaction reference. The WHERE clause on status is the compare-and-set
// that keeps concurrent callbacks from settling the same order twice.
func (s *Postgres) PaymentComplete(ctx context.Context, id int64, transaction string) (bool, error) {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, string(order.StatusProcessing), string(order.StatusPending))
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	note := fmt.Sprintf("DIBS payment completed. DIBS transaction number: %s.", transaction)
	return true, s.insertEvent(ctx, id, "payment_complete", transaction, note)
}

// MarkFailed transitions a pending order to failed with a reason note. A
// no-op on an already reconciled order is not an error.
func (s *Postgres) MarkFailed(ctx context.Context, id int64, reason string) error {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, string(order.StatusFailed), string(order.StatusPending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil
	}
	return s.insertEvent(ctx, id, "payment_failed", "", reason)
}

// Cancel transitions a pending order to cancelled and releases its stock
// reservation. It reports false when the order was no longer pending.
func (s *Postgres) Cancel(ctx context.Context, id int64, reason string) (bool, error) {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status = $2, stock_reserved = false, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, string(order.StatusCancelled), string(order.StatusPending))
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	return true, s.insertEvent(ctx, id, "cancelled", "", reason)
}

func (s *Postgres) insertEvent(ctx context.Context, orderID int64, event, transaction, note string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_events (order_id, event, transaction_ref, note)
		VALUES ($1,$2,$3,$4)`, orderID, event, transaction, note)
	return err
}

// amount renders a decimal with the two fractional digits the numeric
// columns carry.
func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
