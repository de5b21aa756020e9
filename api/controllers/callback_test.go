package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inpayhq/checkout-reconciler/internal/payments"
	"github.com/inpayhq/checkout-reconciler/internal/reconcile"
	"github.com/inpayhq/checkout-reconciler/pkg/config"
	"github.com/inpayhq/checkout-reconciler/pkg/db/models"
	"github.com/inpayhq/checkout-reconciler/pkg/enums"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
)

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

type fakeNonces struct {
	valid map[string]string
}

func (f *fakeNonces) Validate(_ context.Context, scope, token string) error {
	if f.valid[scope] != token {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid or expired verification token")
	}
	return nil
}

type fakeVerifier struct {
	txn reconcile.Transaction
	err error
}

func (f *fakeVerifier) VerifyTransaction(context.Context, string) (reconcile.Transaction, string, error) {
	return f.txn, "", f.err
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

func pendingOrder(id int64) *models.Order {
	return &models.Order{
		ID:            id,
		Total:         decimal.RequireFromString("2500.00"),
		Currency:      enums.CurrencyNGN,
		PaymentMethod: enums.PaymentMethodInpayCheckout,
		Status:        enums.OrderStatusPending,
	}
}

func completedTxn(reference string) reconcile.Transaction {
	return reconcile.Transaction{
		"reference": reference,
		"status":    "completed",
		"verified":  true,
		"amount":    float64(250000),
	}
}

type callbackFixture struct {
	store     *fakeStore
	nonces    *fakeNonces
	verifier  *fakeVerifier
	finalizer *fakeFinalizer
}

func newCallbackFixture() *callbackFixture {
	return &callbackFixture{
		store:     &fakeStore{orders: map[int64]*models.Order{}},
		nonces:    &fakeNonces{valid: map[string]string{}},
		verifier:  &fakeVerifier{},
		finalizer: &fakeFinalizer{result: &payments.Result{Reference: "ref"}},
	}
}

func (f *callbackFixture) handler() http.HandlerFunc {
	return VerifyPayment(f.store, f.nonces, f.verifier, f.finalizer, nil, config.CheckoutConfig{
		ReturnURL: "https://shop.example/thanks",
	}, nil)
}

func (f *callbackFixture) postJSON(t *testing.T, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/verify", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler().ServeHTTP(w, r)
	return w
}

func TestVerifyPaymentSuccess(t *testing.T) {
	f := newCallbackFixture()
	f.store.orders[7] = pendingOrder(7)
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.txn = completedTxn("7_1700000000_abcdefgh")

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "7_1700000000_abcdefgh", "nonce": "tok"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.finalizer.calls)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, true, envelope["success"])
	data := envelope["data"].(map[string]any)
	assert.Equal(t, "https://shop.example/thanks", data["redirect"])
}

func TestVerifyPaymentFormFallback(t *testing.T) {
	f := newCallbackFixture()
	f.store.orders[7] = pendingOrder(7)
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.txn = completedTxn("7_1700000000_abcdefgh")

	body := "order_id=7&reference=7_1700000000_abcdefgh&nonce=tok"
	r := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/verify", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.finalizer.calls)
}

func TestVerifyPaymentMissingFields(t *testing.T) {
	f := newCallbackFixture()
	w := f.postJSON(t, map[string]any{"order_id": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.finalizer.calls)
}

func TestVerifyPaymentInvalidNonce(t *testing.T) {
	f := newCallbackFixture()
	f.store.orders[7] = pendingOrder(7)
	f.nonces.valid["verify_7"] = "tok"

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "forged"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.finalizer.calls)
}

func TestVerifyPaymentOrderNotFound(t *testing.T) {
	f := newCallbackFixture()
	f.nonces.valid["verify_7"] = "tok"

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "tok"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyPaymentWrongPaymentMethod(t *testing.T) {
	f := newCallbackFixture()
	order := pendingOrder(7)
	order.PaymentMethod = "bank_transfer"
	f.store.orders[7] = order
	f.nonces.valid["verify_7"] = "tok"

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "tok"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyPaymentAlreadyPaidSkipsVerification(t *testing.T) {
	f := newCallbackFixture()
	order := pendingOrder(7)
	order.Status = enums.OrderStatusProcessing
	f.store.orders[7] = order
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.err = pkgerrors.New(pkgerrors.CodeUpstream, "should not be called")

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "tok"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, f.finalizer.calls)
}

func TestVerifyPaymentVerificationUnavailable(t *testing.T) {
	f := newCallbackFixture()
	f.store.orders[7] = pendingOrder(7)
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.err = pkgerrors.New(pkgerrors.CodeUpstream, "unable to verify transaction with inpay")

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "tok"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestVerifyPaymentNotCompleted(t *testing.T) {
	f := newCallbackFixture()
	f.store.orders[7] = pendingOrder(7)
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.txn = reconcile.Transaction{"reference": "r", "status": "pending"}

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "tok"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Zero(t, f.finalizer.calls)
}

func TestVerifyPaymentReferenceMismatch(t *testing.T) {
	f := newCallbackFixture()
	order := pendingOrder(7)
	order.SetMeta(models.MetaKeyReference, "7_1700000000_abcdefgh")
	f.store.orders[7] = order
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.txn = completedTxn("8_1700000001_zzzzzzzz")

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "8_1700000001_zzzzzzzz", "nonce": "tok"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, f.finalizer.calls)
}

func TestVerifyPaymentFinalizeFailure(t *testing.T) {
	f := newCallbackFixture()
	f.store.orders[7] = pendingOrder(7)
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.txn = completedTxn("r")
	f.finalizer.err = pkgerrors.New(pkgerrors.CodeDependency, "save order")
	f.finalizer.result = nil

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "tok"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestVerifyPaymentAmountMismatchHeld(t *testing.T) {
	f := newCallbackFixture()
	f.store.orders[7] = pendingOrder(7)
	f.nonces.valid["verify_7"] = "tok"
	f.verifier.txn = completedTxn("r")
	f.finalizer.err = payments.ErrAmountMismatch
	f.finalizer.result = nil

	w := f.postJSON(t, map[string]any{"order_id": 7, "reference": "r", "nonce": "tok"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
