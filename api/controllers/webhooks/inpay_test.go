package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inpayhq/checkout-reconciler/internal/payments"
	"github.com/inpayhq/checkout-reconciler/internal/reconcile"
	"github.com/inpayhq/checkout-reconciler/pkg/db/models"
	"github.com/inpayhq/checkout-reconciler/pkg/enums"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
)

const testSecret = "sk_test_secret"

var testNow = time.Unix(1700000000, 0)

type fakeClient struct {
	secret string
	txn    reconcile.Transaction
	err    error
	calls  int
}

func (f *fakeClient) SigningSecret() string { return f.secret }

func (f *fakeClient) VerifyTransaction(context.Context, string) (reconcile.Transaction, string, error) {
	f.calls++
	return f.txn, "", f.err
}

type fakeStore struct {
	orders map[int64]*models.Order
}

func (f *fakeStore) FindByID(_ context.Context, id int64) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (f *fakeStore) Create(_ context.Context, order *models.Order) error {
	f.orders[order.ID] = order
	return nil
}

func (f *fakeStore) Save(_ context.Context, order *models.Order) error {
	f.orders[order.ID] = order
	return nil
}

type fakeFinalizer struct {
	result *payments.Result
	err    error
	calls  int
}

func (f *fakeFinalizer) Finalize(context.Context, *models.Order, reconcile.Transaction) (*payments.Result, error) {
	f.calls++
	return f.result, f.err
}

type webhookFixture struct {
	client    *fakeClient
	store     *fakeStore
	finalizer *fakeFinalizer
}

func newWebhookFixture() *webhookFixture {
	return &webhookFixture{
		client:    &fakeClient{secret: testSecret},
		store:     &fakeStore{orders: map[int64]*models.Order{}},
		finalizer: &fakeFinalizer{result: &payments.Result{Reference: "ref"}},
	}
}

func (f *webhookFixture) handler() http.HandlerFunc {
	events := map[string]struct{}{
		"payment.virtual_payid.completed":  {},
		"payment.checkout_payid.completed": {},
	}
	return Inpay(f.client, f.store, f.finalizer, events, nil, nil, func() time.Time { return testNow })
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type delivery struct {
	body      []byte
	signature string
	timestamp string
	event     string
}

func signedDelivery(t *testing.T, event string, data map[string]any) delivery {
	t.Helper()
	body, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return delivery{
		body:      body,
		signature: sign(body, testSecret),
		timestamp: strconv.FormatInt(testNow.UnixMilli(), 10),
		event:     event,
	}
}

func (f *webhookFixture) deliver(d delivery) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/inpay", bytes.NewReader(d.body))
	if d.signature != "" {
		r.Header.Set("X-Webhook-Signature", d.signature)
	}
	if d.timestamp != "" {
		r.Header.Set("X-Webhook-Timestamp", d.timestamp)
	}
	if d.event != "" {
		r.Header.Set("X-Webhook-Event", d.event)
	}
	w := httptest.NewRecorder()
	f.handler().ServeHTTP(w, r)
	return w
}

func pendingOrder(id int64) *models.Order {
	return &models.Order{
		ID:            id,
		Total:         decimal.RequireFromString("2500.00"),
		Currency:      enums.CurrencyNGN,
		PaymentMethod: enums.PaymentMethodInpayCheckout,
		Status:        enums.OrderStatusPending,
	}
}

func completedData(reference string, orderID int64) map[string]any {
	return map[string]any{
		"reference": reference,
		"status":    "completed",
		"verified":  true,
		"amount":    250000,
		"metadata":  map[string]any{"order_id": orderID},
	}
}

func TestWebhookSuccess(t *testing.T) {
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	f.client.txn = reconcile.Transaction{"reference": "7_1700000000_abcdefgh", "status": "completed", "verified": true}

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("7_1700000000_abcdefgh", 7)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, 1, f.client.calls)
	assert.Equal(t, 1, f.finalizer.calls)
}

func TestWebhookNoSecretConfigured(t *testing.T) {
	f := newWebhookFixture()
	f.client.secret = ""

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookInvalidTimestamp(t *testing.T) {
	f := newWebhookFixture()

	t.Run("missing", func(t *testing.T) {
		d := signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7))
		d.timestamp = ""
		w := f.deliver(d)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid timestamp", w.Body.String())
	})

	t.Run("stale", func(t *testing.T) {
		d := signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7))
		d.timestamp = strconv.FormatInt(testNow.Add(-6*time.Minute).UnixMilli(), 10)
		w := f.deliver(d)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("boundary accepted", func(t *testing.T) {
		f.store.orders[7] = pendingOrder(7)
		f.client.txn = reconcile.Transaction{"reference": "r", "status": "completed", "verified": true}
		d := signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7))
		d.timestamp = strconv.FormatInt(testNow.Add(-5*time.Minute).UnixMilli(), 10)
		w := f.deliver(d)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestWebhookInvalidSignature(t *testing.T) {
	f := newWebhookFixture()
	d := signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7))
	d.signature = sign(d.body, "wrong-secret")

	w := f.deliver(d)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid signature", w.Body.String())
	assert.Zero(t, f.client.calls)
}

func TestWebhookSignaturePrefixAccepted(t *testing.T) {
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	f.client.txn = reconcile.Transaction{"reference": "r", "status": "completed", "verified": true}
	d := signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7))
	d.signature = "sha256=" + d.signature

	w := f.deliver(d)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookUnparsablePayload(t *testing.T) {
	f := newWebhookFixture()
	body := []byte("not-json")
	w := f.deliver(delivery{
		body:      body,
		signature: sign(body, testSecret),
		timestamp: strconv.FormatInt(testNow.UnixMilli(), 10),
		event:     "payment.virtual_payid.completed",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid payload", w.Body.String())
}

func TestWebhookMissingEvent(t *testing.T) {
	f := newWebhookFixture()
	body, err := json.Marshal(map[string]any{"data": completedData("r", 7)})
	require.NoError(t, err)
	w := f.deliver(delivery{
		body:      body,
		signature: sign(body, testSecret),
		timestamp: strconv.FormatInt(testNow.UnixMilli(), 10),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid payload", w.Body.String())
}

func TestWebhookIgnoredEvent(t *testing.T) {
	f := newWebhookFixture()
	w := f.deliver(signedDelivery(t, "payment.refund.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ignored event", w.Body.String())
	assert.Zero(t, f.client.calls)
}

func TestWebhookOrderNotFound(t *testing.T) {
	f := newWebhookFixture()
	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 999)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Order not found", w.Body.String())
}

func TestWebhookWrongPaymentMethod(t *testing.T) {
	f := newWebhookFixture()
	order := pendingOrder(7)
	order.PaymentMethod = "bank_transfer"
	f.store.orders[7] = order

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Order not found", w.Body.String())
}

func TestWebhookOrderIDFromReference(t *testing.T) {
	// No metadata order id; the reference prefix still routes the event.
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	f.client.txn = reconcile.Transaction{"reference": "7_1700000000_abcdefgh", "status": "completed", "verified": true}

	data := map[string]any{
		"reference": "7_1700000000_abcdefgh",
		"status":    "completed",
		"verified":  true,
	}
	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", data))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestWebhookReferenceMissing(t *testing.T) {
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	data := map[string]any{
		"status":   "completed",
		"verified": true,
		"metadata": map[string]any{"order_id": 7},
	}
	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", data))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Reference missing", w.Body.String())
}

func TestWebhookAlreadyPaid(t *testing.T) {
	f := newWebhookFixture()
	order := pendingOrder(7)
	order.Status = enums.OrderStatusCompleted
	f.store.orders[7] = order

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Zero(t, f.client.calls)
}

func TestWebhookVerificationFailed(t *testing.T) {
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	f.client.err = pkgerrors.New(pkgerrors.CodeUpstream, "unable to verify transaction with inpay")

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Verification failed", w.Body.String())
	assert.Zero(t, f.finalizer.calls)
}

func TestWebhookTransactionNotCompleted(t *testing.T) {
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	f.client.txn = reconcile.Transaction{"reference": "r", "status": "pending"}

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Transaction not completed", w.Body.String())
}

func TestWebhookFinalizeFailure(t *testing.T) {
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	f.client.txn = reconcile.Transaction{"reference": "r", "status": "completed", "verified": true}
	f.finalizer.err = pkgerrors.New(pkgerrors.CodeDependency, "save order")
	f.finalizer.result = nil

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Order update failed", w.Body.String())
}

func TestWebhookFinalizeHoldOutcomes(t *testing.T) {
	f := newWebhookFixture()
	f.store.orders[7] = pendingOrder(7)
	f.client.txn = reconcile.Transaction{"reference": "r", "status": "completed", "verified": true}
	f.finalizer.err = payments.ErrAmountMismatch
	f.finalizer.result = nil

	w := f.deliver(signedDelivery(t, "payment.virtual_payid.completed", completedData("r", 7)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Order on hold", w.Body.String())
}
