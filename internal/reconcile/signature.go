package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// TimestampSkew is the maximum tolerated distance between the webhook
// timestamp header and the local clock.
const TimestampSkew = 5 * time.Minute

// ValidSignature checks the webhook signature header against an
// HMAC-SHA256 of the exact raw body. An optional "sha256=" prefix on the
// header is stripped before comparing. Fails closed when the secret or
// the header is empty. The comparison is constant-time.
func ValidSignature(payload []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	computed := hex.EncodeToString(mac.Sum(nil))
	supplied := strings.TrimPrefix(header, "sha256=")
	return hmac.Equal([]byte(computed), []byte(supplied))
}

// ValidTimestamp reports whether a millisecond webhook timestamp falls
// within the skew window around nowMillis. Zero timestamps are rejected;
// the boundary itself is accepted.
func ValidTimestamp(timestampMillis, nowMillis int64) bool {
	if timestampMillis == 0 {
		return false
	}
	skew := nowMillis - timestampMillis
	if skew < 0 {
		skew = -skew
	}
	return skew <= TimestampSkew.Milliseconds()
}
