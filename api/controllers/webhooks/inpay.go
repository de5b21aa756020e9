package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/inpayhq/checkout-reconciler/api/responses"
	"github.com/inpayhq/checkout-reconciler/internal/orders"
	"github.com/inpayhq/checkout-reconciler/internal/payments"
	"github.com/inpayhq/checkout-reconciler/internal/reconcile"
	"github.com/inpayhq/checkout-reconciler/pkg/db/models"
	"github.com/inpayhq/checkout-reconciler/pkg/enums"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
	"github.com/inpayhq/checkout-reconciler/pkg/metrics"
)

const (
	signatureHeader = "X-Webhook-Signature"
	timestampHeader = "X-Webhook-Timestamp"
	eventHeader     = "X-Webhook-Event"
)

type inpayClient interface {
	SigningSecret() string
	VerifyTransaction(ctx context.Context, reference string) (reconcile.Transaction, string, error)
}

type finalizer interface {
	Finalize(ctx context.Context, order *models.Order, txn reconcile.Transaction) (*payments.Result, error)
}

type webhookPayload struct {
	Event string                `json:"event"`
	Data  reconcile.Transaction `json:"data"`
}

// Inpay handles payment completion webhooks from the provider.
//
// Response discipline: 401/400 only for requests that fail
// authentication or are malformed, so the provider knows delivery
// failed; 500 only for internal finalize errors, so the provider
// retries; every business outcome is a 200 with a descriptive body to
// stop retries for conditions that will never resolve.
func Inpay(
	client inpayClient,
	store orders.Store,
	payer finalizer,
	completionEvents map[string]struct{},
	conf *metrics.ConfirmationMetrics,
	logg *logger.Logger,
	now func() time.Time,
) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if client == nil || store == nil || payer == nil {
			responses.WriteText(w, http.StatusInternalServerError, "Webhook unavailable")
			return
		}

		secret := client.SigningSecret()
		if secret == "" {
			if logg != nil {
				logg.Warn(ctx, "webhook rejected: no signing secret configured")
			}
			responses.WriteText(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteText(w, http.StatusBadRequest, "Invalid payload")
			return
		}

		timestamp, _ := strconv.ParseInt(r.Header.Get(timestampHeader), 10, 64)
		if !reconcile.ValidTimestamp(timestamp, now().UnixMilli()) {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeRejected)
			if logg != nil {
				logg.Warn(ctx, "webhook rejected: timestamp outside skew window")
			}
			responses.WriteText(w, http.StatusBadRequest, "Invalid timestamp")
			return
		}

		if !reconcile.ValidSignature(body, r.Header.Get(signatureHeader), secret) {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeRejected)
			if logg != nil {
				logg.Warn(ctx, "webhook rejected: signature mismatch")
			}
			responses.WriteText(w, http.StatusUnauthorized, "Invalid signature")
			return
		}

		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			responses.WriteText(w, http.StatusBadRequest, "Invalid payload")
			return
		}
		event := r.Header.Get(eventHeader)
		if event == "" {
			event = payload.Event
		}
		if event == "" {
			responses.WriteText(w, http.StatusBadRequest, "Invalid payload")
			return
		}

		if logg != nil {
			ctx = logg.WithField(ctx, "event", event)
		}

		if _, ok := completionEvents[event]; !ok {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeIgnored)
			responses.WriteText(w, http.StatusOK, "Ignored event")
			return
		}

		txn := payload.Data
		reference := txn.Reference()
		if reference == "" {
			reference = txn.MetadataString("reference")
		}

		orderID := txn.MetadataOrderID()
		if orderID == 0 {
			orderID = payments.OrderIDFromReference(reference)
		}
		if logg != nil && orderID != 0 {
			ctx = logg.WithOrderID(ctx, orderID)
		}

		order, err := store.FindByID(ctx, orderID)
		if err != nil || order.PaymentMethod != enums.PaymentMethodInpayCheckout {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeRejected)
			responses.WriteText(w, http.StatusOK, "Order not found")
			return
		}

		if order.Status.IsPaid() {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeAlreadyPaid)
			responses.WriteText(w, http.StatusOK, "OK")
			return
		}

		if reference == "" {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeRejected)
			responses.WriteText(w, http.StatusOK, "Reference missing")
			return
		}
		if logg != nil {
			ctx = logg.WithReference(ctx, reference)
		}

		// The webhook body is untrusted even after signature checks; the
		// provider API remains the source of truth for the transaction.
		verified, _, err := client.VerifyTransaction(ctx, reference)
		if err != nil {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeVerifyFailed)
			if logg != nil {
				logg.Error(ctx, "webhook transaction verification failed", err)
			}
			responses.WriteText(w, http.StatusOK, "Verification failed")
			return
		}

		if !verified.Successful() {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeRejected)
			responses.WriteText(w, http.StatusOK, "Transaction not completed")
			return
		}

		result, err := payer.Finalize(ctx, order, verified)
		if err != nil {
			switch {
			case errors.Is(err, payments.ErrReferenceMismatch):
				conf.Inc(metrics.ChannelWebhook, metrics.OutcomeRejected)
				responses.WriteText(w, http.StatusOK, "Reference mismatch")
			case errors.Is(err, payments.ErrCurrencyMismatch), errors.Is(err, payments.ErrAmountMismatch):
				conf.Inc(metrics.ChannelWebhook, metrics.OutcomeHeld)
				responses.WriteText(w, http.StatusOK, "Order on hold")
			default:
				conf.Inc(metrics.ChannelWebhook, metrics.OutcomeError)
				if logg != nil {
					logg.Error(ctx, "webhook finalize failed", err)
				}
				responses.WriteText(w, http.StatusInternalServerError, "Order update failed")
			}
			return
		}

		if result.AlreadyPaid {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeAlreadyPaid)
		} else {
			conf.Inc(metrics.ChannelWebhook, metrics.OutcomeConfirmed)
		}
		responses.WriteText(w, http.StatusOK, "OK")
	}
}
