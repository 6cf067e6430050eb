// Package webhook verifies and classifies forge webhook deliveries.
// Verification is pure: the caller decides what a failed signature or a
// stale delivery means at the HTTP layer.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// signaturePrefix is the scheme tag GitHub puts in X-Hub-Signature-256.
const signaturePrefix = "sha256="

// VerifySignature reports whether sigHeader authenticates body under
// secret. The header must carry the sha256= prefix followed by the
// lowercase hex HMAC-SHA256 of the body. A malformed header is a plain
// false, not an error. Comparison is constant-time.
func VerifySignature(body []byte, sigHeader, secret string) bool {
	if sigHeader == "" || secret == "" {
		return false
	}
	if !strings.HasPrefix(sigHeader, signaturePrefix) {
		return false
	}
	got := strings.ToLower(strings.TrimPrefix(sigHeader, signaturePrefix))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(got), []byte(want))
}

// WithinAge reports whether a delivery received at receivedAt is young
// enough to process. A zero maxAge disables the check, and a zero
// receivedAt (no timestamp available) passes.
func WithinAge(receivedAt time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || receivedAt.IsZero() {
		return true
	}
	return time.Since(receivedAt) <= maxAge
}
