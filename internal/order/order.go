package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states an order moves through. The gateway
// never owns orders; it reads snapshots and requests transitions.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether payment for the order has already been
// reconciled. DIBS delivers both an asynchronous notification and a
// synchronous browser return for the same transaction, so a completed or
// processing order treats any further callback as a duplicate.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusProcessing
}

// ParseStatus normalises a stored status value.
func ParseStatus(v string) Status {
	return Status(strings.ToLower(strings.TrimSpace(v)))
}

// Billing carries the shopper contact data forwarded to the Payment Window.
type Billing struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Address    string `json:"address"`
	Address2   string `json:"address2"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

// Item is one purchasable line of the order snapshot. UnitPrice and UnitTax
// are per-unit amounts excluding and covering tax respectively, in major
// currency units.
type Item struct {
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	ProductID int64           `json:"productId"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	UnitTax   decimal.Decimal `json:"unitTax"`
}

// Fee is an order-level surcharge line. Total excludes tax.
type Fee struct {
	Name  string          `json:"name"`
	Total decimal.Decimal `json:"total"`
	Tax   decimal.Decimal `json:"tax"`
}

// Order is the snapshot the storefront registers before redirecting the
// shopper to DIBS. All amounts are decimal major units; conversion to minor
// units happens only when the redirect form is built.
type Order struct {
	ID            int64           `json:"id"`
	Status        Status          `json:"status"`
	Currency      string          `json:"currency"`
	Billing       Billing         `json:"billing"`
	Items         []Item          `json:"items"`
	ShippingTotal decimal.Decimal `json:"shippingTotal"`
	ShippingTax   decimal.Decimal `json:"shippingTax"`
	Discount      decimal.Decimal `json:"discount"`
	Fees          []Fee           `json:"fees,omitempty"`
	TotalTax      decimal.Decimal `json:"totalTax"`
	Total         decimal.Decimal `json:"total"`
}
