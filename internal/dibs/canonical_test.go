package dibs

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsAndTerminatesEachPair(t *testing.T) {
	fm := NewFieldMap()
	fm.Set("merchant", "123456")
	fm.Set("amount", "2500")
	fm.Set("currency", "752")
	fm.Set("orderId", "42")

	got := Canonicalize(fm)
	require.Equal(t, "amount=2500&currency=752&merchant=123456&orderId=42&", string(got))
}

func TestCanonicalizeDropsMACAndEmptyValues(t *testing.T) {
	fm := NewFieldMap()
	fm.Set("b", "2")
	fm.Set(FieldMAC, "deadbeef")
	fm.Set("a", "1")
	fm.Set("billingAddress2", "")

	require.Equal(t, "a=1&b=2&", string(Canonicalize(fm)))
}

func TestCanonicalizeIsInsertionOrderIndependent(t *testing.T) {
	first := NewFieldMap()
	first.Set("merchant", "123456")
	first.Set("orderId", "42")
	first.Set("amount", "2500")

	second := NewFieldMap()
	second.Set("amount", "2500")
	second.Set("merchant", "123456")
	second.Set("orderId", "42")

	require.Equal(t, Canonicalize(first), Canonicalize(second))
}

func TestCanonicalizeByteOrderIsCaseSensitive(t *testing.T) {
	fm := NewFieldMap()
	fm.Set("orderId", "42")
	fm.Set("Zebra", "z")

	// uppercase sorts before lowercase in byte order
	require.Equal(t, "Zebra=z&orderId=42&", string(Canonicalize(fm)))
}

func TestFromValuesKeepsFirstValueOnly(t *testing.T) {
	values := url.Values{}
	values.Add("orderID", "42")
	values.Add("orderID", "99")
	values.Add("status", "ACCEPTED")

	fm := FromValues(values)
	v, ok := fm.Get("orderID")
	require.True(t, ok)
	require.Equal(t, "42", v)
	require.Equal(t, 2, fm.Len())
}

func TestFieldMapSetKeepsPosition(t *testing.T) {
	fm := NewFieldMap()
	fm.Set("first", "1")
	fm.Set("second", "2")
	fm.Set("first", "updated")

	require.Equal(t, []string{"first", "second"}, fm.Keys())
	v, _ := fm.Get("first")
	require.Equal(t, "updated", v)
}
