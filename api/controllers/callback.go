package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cast"

	"github.com/inpayhq/checkout-reconciler/api/responses"
	"github.com/inpayhq/checkout-reconciler/api/validators"
	"github.com/inpayhq/checkout-reconciler/internal/nonce"
	"github.com/inpayhq/checkout-reconciler/internal/orders"
	"github.com/inpayhq/checkout-reconciler/internal/payments"
	"github.com/inpayhq/checkout-reconciler/internal/reconcile"
	"github.com/inpayhq/checkout-reconciler/pkg/config"
	"github.com/inpayhq/checkout-reconciler/pkg/db/models"
	"github.com/inpayhq/checkout-reconciler/pkg/enums"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
	"github.com/inpayhq/checkout-reconciler/pkg/metrics"
)

type nonceValidator interface {
	Validate(ctx context.Context, scope, token string) error
}

type transactionVerifier interface {
	VerifyTransaction(ctx context.Context, reference string) (reconcile.Transaction, string, error)
}

type finalizer interface {
	Finalize(ctx context.Context, order *models.Order, txn reconcile.Transaction) (*payments.Result, error)
}

type verifyPaymentRequest struct {
	OrderID   int64  `json:"order_id" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required"`
	Nonce     string `json:"nonce" validate:"required"`
}

// parseVerifyRequest accepts the JSON body the widget posts, falling
// back to form-encoded parameters when the browser submits a plain
// form. Numeric fields arrive as numbers or strings depending on the
// path, so both are coerced.
func parseVerifyRequest(r *http.Request) (*verifyPaymentRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}

	req := &verifyPaymentRequest{}
	var loose map[string]any
	if jsonErr := json.Unmarshal(body, &loose); jsonErr == nil {
		req.OrderID = cast.ToInt64(loose["order_id"])
		req.Reference = cast.ToString(loose["reference"])
		req.Nonce = cast.ToString(loose["nonce"])
	} else {
		values, formErr := url.ParseQuery(string(body))
		if formErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, jsonErr, "invalid request body")
		}
		req.OrderID = cast.ToInt64(values.Get("order_id"))
		req.Reference = values.Get("reference")
		req.Nonce = values.Get("nonce")
	}

	if err := validators.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

// VerifyPayment is the synchronous confirmation path: the browser
// returns from the payment widget and asks the backend to confirm the
// payment before rendering the thank-you page.
func VerifyPayment(
	store orders.Store,
	nonces nonceValidator,
	verifier transactionVerifier,
	payer finalizer,
	conf *metrics.ConfirmationMetrics,
	cfg config.CheckoutConfig,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if store == nil || nonces == nil || verifier == nil || payer == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		req, err := parseVerifyRequest(r)
		if err != nil {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithReference(logg.WithOrderID(ctx, req.OrderID), req.Reference)
		}

		if err := nonces.Validate(ctx, nonce.VerifyScope(req.OrderID), req.Nonce); err != nil {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := store.FindByID(ctx, req.OrderID)
		if err != nil {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if order.PaymentMethod != enums.PaymentMethodInpayCheckout {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		redirect := map[string]string{"redirect": cfg.ReturnURL}

		if order.Status.IsPaid() {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeAlreadyPaid)
			responses.WriteSuccess(w, redirect)
			return
		}

		txn, _, err := verifier.VerifyTransaction(ctx, req.Reference)
		if err != nil {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeVerifyFailed)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !txn.Successful() {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodePaymentRequired, "payment not completed"))
			return
		}

		// Early reject before touching the order; the finalizer repeats
		// this check.
		if stored := order.Reference(); stored != "" && txn.Reference() != "" && stored != txn.Reference() {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, payments.ErrReferenceMismatch)
			return
		}

		result, err := payer.Finalize(ctx, order, txn)
		if err != nil {
			switch {
			case errors.Is(err, payments.ErrCurrencyMismatch), errors.Is(err, payments.ErrAmountMismatch):
				conf.Inc(metrics.ChannelCallback, metrics.OutcomeHeld)
			case errors.Is(err, payments.ErrReferenceMismatch):
				conf.Inc(metrics.ChannelCallback, metrics.OutcomeRejected)
			default:
				conf.Inc(metrics.ChannelCallback, metrics.OutcomeError)
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize payment")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if result.AlreadyPaid {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeAlreadyPaid)
		} else {
			conf.Inc(metrics.ChannelCallback, metrics.OutcomeConfirmed)
		}
		responses.WriteSuccess(w, redirect)
	}
}
