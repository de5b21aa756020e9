package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/inpayhq/checkout-reconciler/internal/nonce"
	"github.com/inpayhq/checkout-reconciler/internal/orders"
	"github.com/inpayhq/checkout-reconciler/pkg/config"
	"github.com/inpayhq/checkout-reconciler/pkg/db/models"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
)

// ErrAlreadyPaid is returned when a session is requested for an order
// that has already been confirmed.
var ErrAlreadyPaid = pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")

// Session carries everything the browser needs to open the provider's
// payment widget and later return through the callback.
type Session struct {
	PublicKey  string `json:"public_key"`
	Reference  string `json:"reference"`
	AmountKobo int64  `json:"amount_kobo"`
	Currency   string `json:"currency"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Nonce      string `json:"nonce"`
	Metadata   string `json:"metadata"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

type referencer interface {
	EnsureReference(ctx context.Context, order *models.Order) (string, error)
}

type nonceIssuer interface {
	Issue(ctx context.Context, scope string) (string, error)
}

type keyProvider interface {
	PublicKey() string
}

// Service prepares payment widget sessions for pending orders.
type Service struct {
	orders   orders.Store
	payments referencer
	nonces   nonceIssuer
	provider keyProvider
	cfg      config.CheckoutConfig
	logger   *logger.Logger
}

type ServiceParams struct {
	Orders   orders.Store
	Payments referencer
	Nonces   nonceIssuer
	Provider keyProvider
	Config   config.CheckoutConfig
	Logger   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, errors.New("checkout: order store is required")
	}
	if params.Payments == nil {
		return nil, errors.New("checkout: payments service is required")
	}
	if params.Nonces == nil {
		return nil, errors.New("checkout: nonce issuer is required")
	}
	if params.Provider == nil {
		return nil, errors.New("checkout: provider is required")
	}
	return &Service{
		orders:   params.Orders,
		payments: params.Payments,
		nonces:   params.Nonces,
		provider: params.Provider,
		cfg:      params.Config,
		logger:   params.Logger,
	}, nil
}

// StartPayment loads the order, ensures it carries a payment reference,
// and issues the anti-forgery token the callback will require.
func (s *Service) StartPayment(ctx context.Context, orderID int64) (*Session, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsPaid() {
		return nil, ErrAlreadyPaid
	}

	reference, err := s.payments.EnsureReference(ctx, order)
	if err != nil {
		return nil, err
	}

	token, err := s.nonces.Issue(ctx, nonce.VerifyScope(order.ID))
	if err != nil {
		return nil, err
	}

	currency := string(order.Currency)
	if currency == "" {
		currency = string(s.cfg.Currency)
	}

	metadata, err := json.Marshal(map[string]any{
		"order_id":     order.ID,
		"gateway":      "inpay_checkout",
		"reference":    reference,
		"callback_url": s.cfg.CallbackURL,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode session metadata")
	}

	if s.logger != nil {
		s.logger.Info(s.logger.WithReference(s.logger.WithOrderID(ctx, order.ID), reference), "checkout session prepared")
	}

	return &Session{
		PublicKey:  s.provider.PublicKey(),
		Reference:  reference,
		AmountKobo: order.TotalMinorUnits(),
		Currency:   strings.ToUpper(currency),
		Email:      order.BillingEmail,
		Phone:      order.BillingPhone,
		FirstName:  order.BillingFirstName,
		LastName:   order.BillingLastName,
		Nonce:      token,
		Metadata:   string(metadata),
		ReturnURL:  s.cfg.ReturnURL,
		CancelURL:  s.cfg.CancelURL,
	}, nil
}
