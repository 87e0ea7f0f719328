// Package stringutil provides some string based helpers.
package stringutil

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SecureRandomHex returns a random opaque identifier of byteLen random bytes,
// hex encoded. Session and API token ids use byteLen 16 (32 hex chars).
func SecureRandomHex(byteLen int) string {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}

	return hex.EncodeToString(buf)
}

func SanitizeUGC(body string) string {
	return bluemonday.UGCPolicy().Sanitize(body)
}

// NormalizeEmail lower-cases and trims an email address. Email uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
