package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inpayhq/checkout-reconciler/internal/orders"
	"github.com/inpayhq/checkout-reconciler/internal/reconcile"
	"github.com/inpayhq/checkout-reconciler/pkg/db/models"
	"github.com/inpayhq/checkout-reconciler/pkg/enums"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
)

var (
	// ErrReferenceMismatch is returned when the provider transaction
	// references a different payment than the order expects. The order is
	// left untouched; this is a routing error, not a payment dispute.
	ErrReferenceMismatch = pkgerrors.New(pkgerrors.CodeConflict, "transaction reference does not match order")
	// ErrCurrencyMismatch is returned after the order has been parked
	// on-hold because the provider settled in an unexpected currency.
	ErrCurrencyMismatch = pkgerrors.New(pkgerrors.CodeStateConflict, "transaction currency does not match order")
	// ErrAmountMismatch is returned after the order has been parked
	// on-hold because the settled amount differs from the order total.
	ErrAmountMismatch = pkgerrors.New(pkgerrors.CodeStateConflict, "transaction amount does not match order total")
)

type cartClearer interface {
	Clear(ctx context.Context, orderID int64)
}

// Result describes what Finalize did with the order.
type Result struct {
	// AlreadyPaid is set when the order was in a paid state before the
	// call and nothing was written.
	AlreadyPaid bool
	// Reference is the transaction reference recorded on the order.
	Reference string
	// Amount is the reconciled amount outcome.
	Amount reconcile.AmountResult
}

// Service finalizes orders against verified provider transactions. Both
// confirmation channels (browser callback and webhook) funnel through
// the same Finalize so a payment is applied at most once regardless of
// which channel lands first.
type Service struct {
	orders   orders.Store
	cart     cartClearer
	logger   *logger.Logger
	currency enums.Currency
	now      func() time.Time
}

type ServiceParams struct {
	Orders orders.Store
	Cart   cartClearer
	Logger *logger.Logger
	// Currency is the single currency the provider settles in.
	Currency enums.Currency
	Now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, errors.New("payments: order store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("payments: logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	currency := params.Currency
	if currency == "" {
		currency = enums.CurrencyNGN
	}
	return &Service{
		orders:   params.Orders,
		cart:     params.Cart,
		logger:   params.Logger,
		currency: currency,
		now:      now,
	}, nil
}

// Finalize applies a verified, successful transaction to the order.
//
// Paid orders are a no-op. A reference mismatch aborts without writing.
// Currency and amount mismatches park the order on-hold with a note and
// return the matching error. On success the order moves to processing
// with the transaction recorded, in a single write.
func (s *Service) Finalize(ctx context.Context, order *models.Order, txn reconcile.Transaction) (*Result, error) {
	ctx = s.logger.WithOrderID(ctx, order.ID)

	if order.Status.IsPaid() {
		s.logger.Info(ctx, "order already paid, skipping finalization")
		return &Result{AlreadyPaid: true, Reference: order.Reference()}, nil
	}

	reference := txn.Reference()
	if reference == "" {
		reference = txn.MetadataString("reference")
	}
	if stored := order.Reference(); stored != "" && reference != "" && stored != reference {
		s.logger.Warn(s.logger.WithReference(ctx, reference), "transaction reference does not match stored order reference")
		return nil, ErrReferenceMismatch
	}
	if reference == "" {
		reference = order.Reference()
	} else if order.Reference() == "" {
		// Adopt the provider's reference so later deliveries for the same
		// payment cross-check against it.
		order.SetMeta(models.MetaKeyReference, reference)
	}
	ctx = s.logger.WithReference(ctx, reference)

	expected := order.TotalMinorUnits()
	amount := reconcile.ReconcileAmount(txn, expected)
	if amount.Degraded {
		s.logger.Warn(ctx, "provider returned no amount, trusting order total")
	}
	if amount.Corrected {
		s.logger.Warn(ctx, fmt.Sprintf("corrected unit confusion in provider amount (source %s)", amount.Source))
	}

	orderCurrency := strings.ToUpper(string(order.Currency))
	txnCurrency := txn.Currency()
	if (txnCurrency != "" && txnCurrency != orderCurrency) || orderCurrency != strings.ToUpper(string(s.currency)) {
		mismatch := txnCurrency
		if mismatch == "" {
			mismatch = orderCurrency
		}
		note := fmt.Sprintf("Payment received in unexpected currency %s (order is %s), reference %s. Order placed on hold for review.", mismatch, order.Currency, reference)
		if err := s.hold(ctx, order, note); err != nil {
			return nil, err
		}
		return nil, ErrCurrencyMismatch.WithDetails(map[string]string{
			"order_currency":       string(order.Currency),
			"transaction_currency": txnCurrency,
		})
	}

	// Underpayment parks the order; overpayment is accepted as settled.
	if amount.Paid < expected {
		note := fmt.Sprintf("Payment amount mismatch: expected %d kobo, provider reported %d kobo (source %s), reference %s. Order placed on hold for review.", expected, amount.Paid, amount.Source, reference)
		if err := s.hold(ctx, order, note); err != nil {
			return nil, err
		}
		return nil, ErrAmountMismatch.WithDetails(map[string]int64{
			"expected": expected,
			"paid":     amount.Paid,
		})
	}

	order.TransactionID = reference
	if raw, err := json.Marshal(txn); err == nil {
		order.SetMeta(models.MetaKeyTransaction, string(raw))
	}
	order.AddNote(fmt.Sprintf("iNPAY payment confirmed, reference %s, amount %d kobo.", reference, amount.Paid), s.now().UTC())
	order.Status = enums.OrderStatusProcessing
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "payment finalized")

	if s.cart != nil {
		s.cart.Clear(ctx, order.ID)
	}

	return &Result{Reference: reference, Amount: amount}, nil
}

func (s *Service) hold(ctx context.Context, order *models.Order, note string) error {
	order.Status = enums.OrderStatusOnHold
	order.AddNote(note, s.now().UTC())
	if err := s.orders.Save(ctx, order); err != nil {
		return err
	}
	s.logger.Warn(ctx, "order placed on hold: "+note)
	return nil
}
