package reconcile

import (
	"math"

	"github.com/spf13/cast"
)

// AmountResult is the outcome of reconciling a transaction amount
// against the order's expected minor-unit total.
type AmountResult struct {
	// Paid is the settled amount in minor units after any correction.
	Paid int64
	// Source names the extractor that produced the amount, or "fallback"
	// when the provider returned no amount at all.
	Source string
	// Degraded is set when no amount was found anywhere and the expected
	// order total was trusted instead. Callers must log this path.
	Degraded bool
	// Corrected is set when a minor/major unit confusion was detected
	// and fixed.
	Corrected bool
}

// amountExtractor pulls a candidate paid amount out of a transaction.
// Extractors are tried in priority order; the first positive value wins.
type amountExtractor struct {
	name string
	fn   func(Transaction) int64
}

var amountExtractors = []amountExtractor{
	{name: "amount", fn: directField("amount")},
	{name: "amount_paid", fn: directField("amount_paid")},
	{name: "amountKobo", fn: directField("amountKobo")},
	{name: "metadata.amount", fn: metadataField("amount")},
	{name: "metadata.amount_kobo", fn: metadataField("amount_kobo")},
	{name: "metadata.amountKobo", fn: metadataField("amountKobo")},
}

func directField(key string) func(Transaction) int64 {
	return func(t Transaction) int64 {
		if _, ok := t[key]; !ok {
			return 0
		}
		return cast.ToInt64(t[key])
	}
}

func metadataField(key string) func(Transaction) int64 {
	return func(t Transaction) int64 {
		meta := t.Metadata()
		if _, ok := meta[key]; !ok {
			return 0
		}
		return cast.ToInt64(meta[key])
	}
}

// ReconcileAmount extracts the paid amount from the transaction and
// normalizes unit confusion against the expected minor-unit total.
//
// When paid differs from expected, two hypotheses are tested before the
// difference is treated as a genuine mismatch: the provider reported
// major units where minor were expected (paid*100 == expected), or the
// inverse (round(expected/100) == paid). Either way the paid amount is
// scaled up by 100.
func ReconcileAmount(txn Transaction, expected int64) AmountResult {
	result := AmountResult{}

	for _, extractor := range amountExtractors {
		if paid := extractor.fn(txn); paid > 0 {
			result.Paid = paid
			result.Source = extractor.name
			break
		}
	}

	if result.Paid == 0 {
		// The provider omitted the amount entirely. Trusting the order
		// total keeps legitimate payments from being blocked, at the
		// cost of skipping the amount check; the caller logs this.
		result.Paid = expected
		result.Source = "fallback"
		result.Degraded = true
		return result
	}

	if result.Paid != expected && expected > 0 {
		if result.Paid*100 == expected {
			result.Paid *= 100
			result.Corrected = true
		} else if int64(math.Round(float64(expected)/100)) == result.Paid {
			result.Paid *= 100
			result.Corrected = true
		}
	}

	return result
}
