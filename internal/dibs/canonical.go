package dibs

import (
	"bytes"
	"sort"
)

// FieldMAC is the name of the signature field on both the outgoing form and
// the inbound callback.
const FieldMAC = "MAC"

// Canonicalize serialises a field map into the exact byte sequence the MAC is
// computed over. The MAC field itself and every empty-valued field are
// dropped, the remaining names are sorted by byte order (case-sensitive), and
// each surviving pair is emitted as name=value&. The trailing ampersand is
// part of the canonical form. Signing and verification must both go through
// this function; any asymmetry breaks every transaction.
func Canonicalize(fields *FieldMap) []byte {
	keys := make([]string, 0, fields.Len())
	for _, k := range fields.Keys() {
		if k == FieldMAC {
			continue
		}
		if v, _ := fields.Get(k); v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v, _ := fields.Get(k)
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(v)
		buf.WriteByte('&')
	}
	return buf.Bytes()
}
