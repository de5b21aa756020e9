package enums

// OrderStatus tracks an order through its payment lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
)

// IsPaid reports whether the order already reached a paid terminal state.
// Finalization against a paid order must be a no-op.
func (s OrderStatus) IsPaid() bool {
	return s == OrderStatusProcessing || s == OrderStatusCompleted
}
