package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inpayhq/checkout-reconciler/pkg/db/models"
)

// NewReference builds a payment reference of the form
// {orderID}_{unixSeconds}_{token}. The order id prefix lets the webhook
// handler recover the order without a metadata lookup; the token keeps
// retried checkouts for the same order distinct.
func NewReference(orderID int64, now time.Time) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%d_%s", orderID, now.Unix(), token)
}

// OrderIDFromReference extracts the leading order id from a reference,
// or 0 when the reference does not carry one.
func OrderIDFromReference(reference string) int64 {
	head, _, found := strings.Cut(reference, "_")
	if !found {
		return 0
	}
	var id int64
	if _, err := fmt.Sscanf(head, "%d", &id); err != nil {
		return 0
	}
	return id
}

// EnsureReference returns the order's stored reference, generating and
// persisting a fresh one when the order has none yet.
func (s *Service) EnsureReference(ctx context.Context, order *models.Order) (string, error) {
	if ref := order.Reference(); ref != "" {
		return ref, nil
	}
	ref := NewReference(order.ID, s.now())
	order.SetMeta(models.MetaKeyReference, ref)
	if err := s.orders.Save(ctx, order); err != nil {
		return "", err
	}
	return ref, nil
}
