package enums

// Currency is an ISO 4217 currency code.
type Currency string

const (
	// CurrencyNGN is the only currency the gateway settles in.
	CurrencyNGN Currency = "NGN"
)

func (c Currency) String() string {
	return string(c)
}
