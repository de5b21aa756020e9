package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/inpayhq/checkout-reconciler/api/responses"
	"github.com/inpayhq/checkout-reconciler/internal/checkout"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
)

type checkoutService interface {
	StartPayment(ctx context.Context, orderID int64) (*checkout.Session, error)
}

// StartCheckout prepares a payment widget session for a pending order.
func StartCheckout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
		if err != nil || orderID <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		session, err := svc.StartPayment(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, session)
	}
}
