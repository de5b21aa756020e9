package enums

// PaymentMethod identifies the gateway an order pays through.
type PaymentMethod string

const (
	// PaymentMethodInpayCheckout is the only method this service reconciles.
	PaymentMethodInpayCheckout PaymentMethod = "inpay_checkout"
)
