package dibs

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nordcart/dibs-gateway/internal/order"
)

// unitCode is the fixed DIBS unit token for every row ("styck").
const unitCode = "st"

// OITypes declares the column layout of every oiRow field.
const OITypes = "UNITCODE;QUANTITY;DESCRIPTION;AMOUNT;VATAMOUNT;ITEMID"

// ItemRow is one billable line in the oiRow column layout. Amounts are minor
// units; a discount row carries a negative amount.
type ItemRow struct {
	UnitCode    string
	Quantity    int
	Description string
	Amount      int64
	VATAmount   int64
	ItemID      string
}

// Wire renders the row as the semicolon-joined value DIBS parses
// positionally, e.g. "st;2;Widget;10000;2500;SKU-1".
func (r ItemRow) Wire() string {
	return fmt.Sprintf("%s;%d;%s;%d;%d;%s",
		r.UnitCode, r.Quantity, r.Description, r.Amount, r.VATAmount, r.ItemID)
}

// InvoiceFee is the special-cased surcharge for invoice payment. It is sent
// as the invoiceFee/invoiceFeeVAT field pair instead of a generic row.
// Amount is the pre-tax fee in minor units; VATPercent is the tax percentage
// rounded to a whole percent and scaled by 100 (25% -> 2500).
type InvoiceFee struct {
	Amount     int64
	VATPercent int64
}

// LineItemBuilder turns an order snapshot into the ordered row sequence, the
// optional invoice-fee override and the gateway-calculated total.
type LineItemBuilder struct {
	// InvoiceFeeTitle identifies which fee line is the invoice fee. Empty
	// disables the override and every fee becomes a generic row.
	InvoiceFeeTitle string
	// InvoiceFeePrice is the configured fee product price excluding tax.
	InvoiceFeePrice decimal.Decimal
}

// Build walks items, shipping, discount and fees in that order, assigning
// contiguous 1-based row indices. DIBS addresses rows positionally
// (oiRow1, oiRow2, ...), so a row must never be skipped or renumbered once
// assigned. The returned total is the sum DIBS reconciles the declared
// amount against when the gateway calculates totals.
func (b LineItemBuilder) Build(o *order.Order) (rows []ItemRow, fee *InvoiceFee, total decimal.Decimal) {
	for _, it := range o.Items {
		if it.Qty <= 0 {
			continue
		}
		itemID := it.SKU
		if itemID == "" {
			itemID = strconv.FormatInt(it.ProductID, 10)
		}
		rows = append(rows, ItemRow{
			UnitCode:    unitCode,
			Quantity:    it.Qty,
			Description: it.Name,
			Amount:      MinorUnits(it.UnitPrice),
			VATAmount:   MinorUnits(it.UnitTax),
			ItemID:      itemID,
		})
		total = total.Add(it.UnitPrice.Add(it.UnitTax).Mul(decimal.NewFromInt(int64(it.Qty))))
	}

	if o.ShippingTotal.IsPositive() {
		rows = append(rows, ItemRow{
			UnitCode:    unitCode,
			Quantity:    1,
			Description: "Shipping cost",
			Amount:      MinorUnits(o.ShippingTotal),
			VATAmount:   MinorUnits(o.ShippingTax),
			ItemID:      "0",
		})
		total = total.Add(o.ShippingTotal).Add(o.ShippingTax)
	}

	if o.Discount.IsPositive() {
		rows = append(rows, ItemRow{
			UnitCode:    unitCode,
			Quantity:    1,
			Description: "Discount",
			Amount:      -MinorUnits(o.Discount),
			VATAmount:   0,
			ItemID:      "0",
		})
		total = total.Sub(o.Discount)
	}

	for _, f := range o.Fees {
		if b.InvoiceFeeTitle != "" && f.Name == b.InvoiceFeeTitle {
			fee = &InvoiceFee{
				Amount:     MinorUnits(b.InvoiceFeePrice),
				VATPercent: feeVATPercent(o, f),
			}
		} else {
			rows = append(rows, ItemRow{
				UnitCode:    unitCode,
				Quantity:    1,
				Description: f.Name,
				Amount:      MinorUnits(f.Total),
				VATAmount:   MinorUnits(f.Tax),
				ItemID:      "0",
			})
		}
		total = total.Add(f.Total).Add(f.Tax)
	}

	return rows, fee, total
}

// feeVATPercent derives the invoice-fee VAT percentage from the fee line.
// The percentage is rounded to two decimals, then to a whole percent, before
// scaling. Rounding the percentage rather than the tax amount can drift a
// cent against the actual fee tax; DIBS reconciles totals with the same
// drift, so the order of operations must stay exactly like this.
func feeVATPercent(o *order.Order, f order.Fee) int64 {
	if !o.TotalTax.IsPositive() || f.Total.IsZero() {
		return 0
	}
	pct := f.Tax.Div(f.Total).Mul(decimal.NewFromInt(100)).Round(2)
	return pct.Round(0).IntPart() * 100
}
