package auth

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// keySeparator joins the token and the normalised MAC in a ScopingKey.
const keySeparator = "."

// fingerprintLen is the number of hex characters kept in a token fingerprint.
const fingerprintLen = 12

// ScopingKey identifies one logical device slot. Devices and apps that
// present the same token and MAC share a key.
type ScopingKey string

// NormalizeMAC lower-cases s and drops every character outside [0-9a-f], so
// "AA:BB-cc" and "aabbcc" collapse to the same value. Malformed input yields a
// shorter or empty string rather than an error.
func NormalizeMAC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeriveKey builds the ScopingKey for a token and a raw MAC.
func DeriveKey(token, mac string) ScopingKey {
	return ScopingKey(token + keySeparator + NormalizeMAC(mac))
}

// Fingerprint returns a short, stable, non-reversible identifier for a token.
// It is safe to log and to store; the token itself is neither.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
