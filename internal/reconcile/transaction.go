package reconcile

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"
)

// Transaction is the provider's loosely-typed transaction payload. The
// provider's schema is inconsistent across endpoints, so fields are
// extracted on demand instead of modeled up front.
type Transaction map[string]any

// StatusCompleted is the provider status indicating a settled payment.
const StatusCompleted = "completed"

// Reference returns the provider-side transaction reference.
func (t Transaction) Reference() string {
	return cast.ToString(t["reference"])
}

// Status returns the lowercased transaction status.
func (t Transaction) Status() string {
	return strings.ToLower(cast.ToString(t["status"]))
}

// Currency returns the uppercased transaction currency, or "" when the
// provider omitted it.
func (t Transaction) Currency() string {
	return strings.ToUpper(strings.TrimSpace(cast.ToString(t["currency"])))
}

// Verified reports whether the provider flagged the transaction as
// verified. The flag arrives as true, "true", 1, or "1"; anything else
// is treated as unverified.
func (t Transaction) Verified() bool {
	switch v := t["verified"].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v == 1
	case int:
		return v == 1
	default:
		return false
	}
}

// Successful reports whether the transaction represents a completed,
// verified payment.
func (t Transaction) Successful() bool {
	if len(t) == 0 {
		return false
	}
	return t.Status() == StatusCompleted && t.Verified()
}

// Metadata returns the transaction metadata, decoding it when the
// provider delivered it as a JSON-encoded string instead of an object.
func (t Transaction) Metadata() map[string]any {
	switch meta := t["metadata"].(type) {
	case map[string]any:
		return meta
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(meta), &decoded); err == nil {
			return decoded
		}
	}
	return map[string]any{}
}

// MetadataString returns a metadata field coerced to string.
func (t Transaction) MetadataString(key string) string {
	return cast.ToString(t.Metadata()[key])
}

// MetadataOrderID returns the order id carried in transaction metadata,
// or 0 when absent or non-numeric.
func (t Transaction) MetadataOrderID() int64 {
	return cast.ToInt64(t.Metadata()["order_id"])
}
