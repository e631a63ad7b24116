package dibs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeMAC returns the lowercase hex HMAC-SHA256 of the canonical field
// bytes under the merchant secret. An empty secret still produces a
// deterministic digest; refusing to sign would only move the failure
// somewhere harder to see, and a missing key already disables the gateway at
// the configuration boundary.
func ComputeMAC(fields *FieldMap, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(Canonicalize(fields))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyMAC recomputes the MAC over fields and compares it against the MAC
// field carried in the payload. The comparison is constant time so response
// timing cannot be used to probe the secret.
func VerifyMAC(fields *FieldMap, secret []byte) bool {
	provided, ok := fields.Get(FieldMAC)
	if !ok || provided == "" {
		return false
	}
	expected := ComputeMAC(fields, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

// DecodeSecret turns a configured HMAC key into raw key bytes. DIBS issues
// keys as hex strings; anything that does not parse as hex is used verbatim.
func DecodeSecret(key string) []byte {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil
	}
	if len(trimmed)%2 == 0 {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return raw
		}
	}
	return []byte(trimmed)
}
