package dibs

import (
	"fmt"
	"strings"
)

// currencyNumeric maps supported store currencies to the ISO 4217 numeric
// codes DIBS expects on the wire. A store currency outside this table cannot
// be routed to DIBS at all and disables the gateway.
var currencyNumeric = map[string]string{
	"DKK": "208",
	"EUR": "978",
	"USD": "840",
	"GBP": "826",
	"SEK": "752",
	"AUD": "036",
	"CAD": "124",
	"ISK": "352",
	"JPY": "392",
	"NZD": "554",
	"NOK": "578",
	"CHF": "756",
	"TRY": "949",
}

// NumericCode returns the ISO 4217 numeric code for a store currency.
func NumericCode(currency string) (string, bool) {
	code, ok := currencyNumeric[strings.ToUpper(strings.TrimSpace(currency))]
	return code, ok
}

// SupportedCurrency reports whether DIBS accepts the store currency.
func SupportedCurrency(currency string) bool {
	_, ok := NumericCode(currency)
	return ok
}

// Credentials holds the merchant account data for one invoice market.
type Credentials struct {
	MerchantID string
	HMACKey    string
}

// configured reports whether both the merchant id and the key are present.
func (c Credentials) configured() bool {
	return strings.TrimSpace(c.MerchantID) != "" && strings.TrimSpace(c.HMACKey) != ""
}

// invoiceMarkets routes the currencies the invoice product is sold in to
// their DIBS country and Payment Window language.
var invoiceMarkets = map[string]struct {
	Country  string
	Language string
}{
	"SEK": {Country: "SE", Language: "sv"},
	"NOK": {Country: "NO", Language: "nb"},
	"DKK": {Country: "DK", Language: "da"},
}

// CredentialSet maps invoice market currencies to merchant credentials. The
// invoice product is only offered in Sweden, Norway and Denmark, each with
// its own merchant id and HMAC key.
type CredentialSet map[string]Credentials

// Market is the fully resolved routing for the active store currency.
type Market struct {
	Currency        string
	CurrencyNumeric string
	Country         string
	Language        string
	MerchantID      string
	Secret          []byte
}

// Resolve validates the store currency against the invoice markets and
// returns the routing data for it. It fails when the currency is not an
// invoice market or when the merchant credentials for it are missing; the
// caller is expected to disable the gateway on error rather than run
// unsigned.
func (s CredentialSet) Resolve(currency string) (Market, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	numeric, ok := NumericCode(cur)
	if !ok {
		return Market{}, fmt.Errorf("currency %s is not supported by DIBS", cur)
	}
	market, ok := invoiceMarkets[cur]
	if !ok {
		return Market{}, fmt.Errorf("currency %s is not an invoice market", cur)
	}
	creds, ok := s[cur]
	if !ok || !creds.configured() {
		return Market{}, fmt.Errorf("merchant credentials for %s are not configured", cur)
	}
	return Market{
		Currency:        cur,
		CurrencyNumeric: numeric,
		Country:         market.Country,
		Language:        market.Language,
		MerchantID:      creds.MerchantID,
		Secret:          DecodeSecret(creds.HMACKey),
	}, nil
}
