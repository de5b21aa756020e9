package cart

import (
	"context"
	"errors"

	"github.com/inpayhq/checkout-reconciler/pkg/logger"
	"github.com/inpayhq/checkout-reconciler/pkg/redis"
)

// Service clears the cached cart session once an order's payment is
// confirmed. Clearing is best-effort: a Redis failure here must never
// fail the confirmation that triggered it.
type Service struct {
	store  redis.CartStore
	logger *logger.Logger
}

type ServiceParams struct {
	Store  redis.CartStore
	Logger *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, errors.New("cart: store is required")
	}
	return &Service{store: params.Store, logger: params.Logger}, nil
}

// Clear drops the cart session for the order. Errors are logged and
// swallowed.
func (s *Service) Clear(ctx context.Context, orderID int64) {
	if err := s.store.Del(ctx, s.store.CartKey(orderID)); err != nil {
		if s.logger != nil {
			s.logger.Warn(s.logger.WithOrderID(ctx, orderID), "failed to clear cart session: "+err.Error())
		}
	}
}
