package dibs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nordcart/dibs-gateway/internal/order"
)

// PaymentWindowURL is the hosted checkout entrypoint the signed form posts to.
const PaymentWindowURL = "https://sat1.dibspayment.com/dibspaymentwindow/entrypoint"

// phoneStripper removes the characters DIBS rejects in billingMobile.
var phoneStripper = strings.NewReplacer(".", "", " ", "", "(", "", ")", "", "+", "", "-", "")

// Builder assembles the signed Payment Window form for one resolved invoice
// market. Field names are wire-exact; renaming any of them changes the MAC
// input and breaks every transaction.
type Builder struct {
	Market Market
	// Language overrides the market language when set ("no" is normalised
	// to "nb", which is what the Payment Window actually speaks).
	Language string
	// CallbackURL must not carry query parameters: DIBS erases everything
	// after a '?' in the configured callback.
	CallbackURL     string
	AcceptReturnURL string
	CancelReturnURL string
	TestMode        bool
	// CalcTotals declares the row sum as the order amount instead of the
	// order's stated total. Useful for stores pricing with 3 or 4 decimals,
	// since DIBS processes 2 and cancels payments whose rows do not add up.
	CalcTotals bool
	Rows       LineItemBuilder
}

// Build returns the complete outgoing field map, MAC included, ready to be
// rendered as hidden form fields by the caller.
func (b Builder) Build(o *order.Order) (*FieldMap, error) {
	if o == nil {
		return nil, fmt.Errorf("nil order")
	}
	if cur := strings.ToUpper(strings.TrimSpace(o.Currency)); cur != b.Market.Currency {
		return nil, fmt.Errorf("order currency %s does not match gateway market %s", cur, b.Market.Currency)
	}

	fm := NewFieldMap()
	fm.Set("merchant", b.Market.MerchantID)
	fm.Set("paytype", "ALL_INVOICES")
	fm.Set("currency", b.Market.CurrencyNumeric)
	fm.Set("orderId", strconv.FormatInt(o.ID, 10))
	fm.Set("language", b.language())

	fm.Set("callbackUrl", b.CallbackURL)
	fm.Set("acceptReturnUrl", b.AcceptReturnURL)
	fm.Set("cancelreturnurl", b.CancelReturnURL)

	fm.Set("billingFirstName", o.Billing.FirstName)
	fm.Set("billingLastName", o.Billing.LastName)
	fm.Set("billingAddress", o.Billing.Address)
	fm.Set("billingAddress2", o.Billing.Address2)
	fm.Set("billingPostalPlace", o.Billing.City)
	fm.Set("billingPostalCode", o.Billing.PostalCode)
	fm.Set("billingEmail", o.Billing.Email)
	fm.Set("billingMobile", phoneStripper.Replace(o.Billing.Phone))

	if b.TestMode {
		fm.Set("test", "1")
	}

	fm.Set("oiTypes", OITypes)
	rows, fee, computed := b.Rows.Build(o)
	for i, row := range rows {
		fm.Set("oiRow"+strconv.Itoa(i+1), row.Wire())
	}
	if fee != nil {
		fm.Set("invoiceFee", FormatMinor(fee.Amount))
		fm.Set("invoiceFeeVAT", FormatMinor(fee.VATPercent))
	}

	if b.CalcTotals {
		fm.Set("amount", FormatMinor(MinorUnits(computed)))
	} else {
		fm.Set("amount", FormatMinor(MinorUnits(o.Total)))
	}

	fm.Set(FieldMAC, ComputeMAC(fm, b.Market.Secret))
	return fm, nil
}

func (b Builder) language() string {
	lang := strings.TrimSpace(b.Language)
	if lang == "" {
		lang = b.Market.Language
	}
	if lang == "no" {
		lang = "nb"
	}
	return lang
}
