package inpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inpayhq/checkout-reconciler/internal/reconcile"
	"github.com/inpayhq/checkout-reconciler/pkg/config"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
	"github.com/inpayhq/checkout-reconciler/pkg/logger"
)

var (
	// ErrMissingCredential is returned when no secret key is configured.
	ErrMissingCredential = pkgerrors.New(pkgerrors.CodeUnauthorized, "inpay secret key is not configured")
	// ErrVerificationFailed is returned when every provider endpoint
	// failed to produce an authoritative transaction. Callers must treat
	// this as "cannot confirm", never as "payment failed".
	ErrVerificationFailed = pkgerrors.New(pkgerrors.CodeUpstream, "unable to verify transaction with inpay")
)

const defaultVerifyTimeout = 30 * time.Second

// Client talks to the iNPAY developer API. Transactions are always
// fetched fresh; nothing is cached.
type Client struct {
	httpClient *http.Client
	baseURL    string
	publicKey  string
	secretKey  string
	verbose    bool
	logger     *logger.Logger
}

// NewClient builds the iNPAY API wrapper. Empty credentials are allowed
// at construction so the webhook handler can reject unauthenticated
// deliveries itself; verification calls fail with ErrMissingCredential.
func NewClient(cfg config.ProviderConfig, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("inpay base url is required")
	}

	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		publicKey:  strings.TrimSpace(cfg.PublicKey),
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		verbose:    cfg.VerboseLogging,
		logger:     logg,
	}, nil
}

// PublicKey returns the configured public key.
func (c *Client) PublicKey() string {
	if c == nil {
		return ""
	}
	return c.publicKey
}

// SigningSecret returns the secret used for webhook signatures. iNPAY
// signs webhooks with the same secret key that authorizes API calls.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.secretKey
}

type verifyEnvelope struct {
	Data    reconcile.Transaction `json:"data"`
	Message string                `json:"message"`
}

type endpoint struct {
	method string
	url    string
	body   []byte
}

// VerifyTransaction fetches the authoritative transaction state for a
// reference. It tries the status endpoint first, then the verify
// endpoint, each once with a bounded timeout; the first 200 response
// carrying a non-empty data object wins. A transport error, non-200
// status, or empty/unparsable body skips to the next endpoint.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (reconcile.Transaction, string, error) {
	if c.secretKey == "" {
		return nil, "", ErrMissingCredential
	}

	verifyBody, err := json.Marshal(map[string]string{"reference": reference})
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode verify request")
	}

	endpoints := []endpoint{
		{method: http.MethodGet, url: c.baseURL + "/transaction/status?reference=" + url.QueryEscape(reference)},
		{method: http.MethodPost, url: c.baseURL + "/transaction/verify", body: verifyBody},
	}

	for _, ep := range endpoints {
		txn, message, ok := c.tryEndpoint(ctx, ep)
		if !ok {
			continue
		}
		if c.verbose && c.logger != nil {
			raw, _ := json.Marshal(txn)
			logCtx := c.logger.WithFields(ctx, map[string]any{
				"reference": reference,
				"payload":   string(raw),
			})
			c.logger.Info(logCtx, "inpay verification data received")
		}
		return txn, message, nil
	}

	return nil, "", ErrVerificationFailed
}

func (c *Client) tryEndpoint(ctx context.Context, ep endpoint) (reconcile.Transaction, string, bool) {
	var body io.Reader
	if ep.body != nil {
		body = bytes.NewReader(ep.body)
	}

	req, err := http.NewRequestWithContext(ctx, ep.method, ep.url, body)
	if err != nil {
		return nil, "", false
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if ep.method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", false
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", false
	}

	var envelope verifyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, "", false
	}
	if len(envelope.Data) == 0 {
		return nil, "", false
	}

	return envelope.Data, envelope.Message, true
}
