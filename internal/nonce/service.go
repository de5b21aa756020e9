package nonce

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inpayhq/checkout-reconciler/pkg/config"
	pkgerrors "github.com/inpayhq/checkout-reconciler/pkg/errors"
	"github.com/inpayhq/checkout-reconciler/pkg/redis"
)

const defaultTTL = 15 * time.Minute

// ErrInvalid is returned when a token is missing, expired, or does not
// match the issued value. Callers treat all three cases identically so
// a probing client learns nothing from the distinction.
var ErrInvalid = pkgerrors.New(pkgerrors.CodeValidation, "invalid or expired verification token")

// Service issues and checks single-scope anti-forgery tokens backed by
// Redis with a bounded TTL.
type Service struct {
	store redis.TokenStore
	ttl   time.Duration
}

type ServiceParams struct {
	Store  redis.TokenStore
	Config config.NonceConfig
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, errors.New("nonce: token store is required")
	}
	ttl := params.Config.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{store: params.Store, ttl: ttl}, nil
}

// VerifyScope returns the token scope for confirming a single order's
// payment. Tokens issued for one order never validate for another.
func VerifyScope(orderID int64) string {
	return fmt.Sprintf("verify_%d", orderID)
}

// Issue mints a fresh token for the scope, replacing any prior one.
func (s *Service) Issue(ctx context.Context, scope string) (string, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	key := s.store.NonceKey(scope)
	if err := s.store.Set(ctx, key, token, s.ttl); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store verification token")
	}
	return token, nil
}

// Validate checks a presented token against the issued one. The token
// survives validation so a retried confirmation inside the TTL window
// still passes; expiry is delegated to Redis.
func (s *Service) Validate(ctx context.Context, scope, token string) error {
	if token == "" {
		return ErrInvalid
	}
	stored, err := s.store.Get(ctx, s.store.NonceKey(scope))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return ErrInvalid
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load verification token")
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return ErrInvalid
	}
	return nil
}
