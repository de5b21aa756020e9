package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/inpayhq/checkout-reconciler/pkg/enums"
	"github.com/inpayhq/checkout-reconciler/pkg/types"
)

// Metadata keys owned by the reconciliation pipeline.
const (
	MetaKeyReference   = "checkout_reference"
	MetaKeyTransaction = "checkout_transaction"
)

// OrderNote is a single entry in an order's append-only note log.
type OrderNote struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// OrderNotes is persisted as a jsonb column.
type OrderNotes []OrderNote

// Order is a locally tracked order awaiting payment confirmation.
type Order struct {
	ID               int64               `gorm:"column:id;primaryKey;autoIncrement"`
	Total            decimal.Decimal     `gorm:"column:total;type:numeric(14,2);not null"`
	Currency         enums.Currency      `gorm:"column:currency;type:text;not null;default:'NGN'"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	Status           enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	TransactionID    string              `gorm:"column:transaction_id"`
	Metadata         types.JSONMap       `gorm:"column:metadata;type:jsonb;serializer:json"`
	Notes            OrderNotes          `gorm:"column:notes;type:jsonb;serializer:json"`
	BillingEmail     string              `gorm:"column:billing_email"`
	BillingPhone     string              `gorm:"column:billing_phone"`
	BillingFirstName string              `gorm:"column:billing_first_name"`
	BillingLastName  string              `gorm:"column:billing_last_name"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// Meta returns the metadata value for key, or "".
func (o *Order) Meta(key string) string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	return o.Metadata[key]
}

// SetMeta writes a metadata entry, allocating the map on first use.
func (o *Order) SetMeta(key, value string) {
	if o.Metadata == nil {
		o.Metadata = types.JSONMap{}
	}
	o.Metadata[key] = value
}

// Reference returns the stored payment reference, if any.
func (o *Order) Reference() string {
	return o.Meta(MetaKeyReference)
}

// AddNote appends to the order's note log.
func (o *Order) AddNote(message string, at time.Time) {
	o.Notes = append(o.Notes, OrderNote{At: at, Message: message})
}

// TotalMinorUnits converts the decimal major-unit total to minor units
// (kobo), rounding to the nearest unit.
func (o *Order) TotalMinorUnits() int64 {
	return o.Total.Shift(2).Round(0).IntPart()
}
