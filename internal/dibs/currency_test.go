package dibs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNumericCode(t *testing.T) {
	cases := map[string]string{
		"SEK": "752",
		"NOK": "578",
		"DKK": "208",
		"EUR": "978",
		"AUD": "036",
	}
	for cur, want := range cases {
		code, ok := NumericCode(cur)
		require.True(t, ok, cur)
		require.Equal(t, want, code, cur)
	}

	_, ok := NumericCode("IDR")
	require.False(t, ok)
	require.False(t, SupportedCurrency("IDR"))
}

func TestNumericCodeNormalisesInput(t *testing.T) {
	code, ok := NumericCode(" sek ")
	require.True(t, ok)
	require.Equal(t, "752", code)
}

func testCredentials() CredentialSet {
	return CredentialSet{
		"SEK": {MerchantID: "111", HMACKey: "secret-se"},
		"NOK": {MerchantID: "222", HMACKey: "secret-no"},
		"DKK": {MerchantID: "333", HMACKey: "secret-dk"},
	}
}

func TestResolveInvoiceMarkets(t *testing.T) {
	set := testCredentials()

	cases := []struct {
		currency string
		country  string
		language string
		merchant string
	}{
		{"SEK", "SE", "sv", "111"},
		{"NOK", "NO", "nb", "222"},
		{"DKK", "DK", "da", "333"},
	}
	for _, tc := range cases {
		m, err := set.Resolve(tc.currency)
		require.NoError(t, err, tc.currency)
		require.Equal(t, tc.country, m.Country)
		require.Equal(t, tc.language, m.Language)
		require.Equal(t, tc.merchant, m.MerchantID)
		require.NotEmpty(t, m.Secret)
	}
}

func TestResolveRejectsNonInvoiceMarket(t *testing.T) {
	// EUR is a valid DIBS currency but the invoice product is not sold there
	_, err := testCredentials().Resolve("EUR")
	require.Error(t, err)
}

func TestResolveRejectsUnsupportedCurrency(t *testing.T) {
	_, err := testCredentials().Resolve("IDR")
	require.Error(t, err)
}

func TestResolveRejectsMissingCredentials(t *testing.T) {
	set := CredentialSet{"SEK": {MerchantID: "111"}}
	_, err := set.Resolve("SEK")
	require.Error(t, err)
}
