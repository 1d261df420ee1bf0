package authz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

// Stable reason codes for confirmation-token rejections. Tests assert on the
// exact cause, so every failure mode gets its own code.
const (
	ReasonTokenSecretUnconfigured = "token_secret_unconfigured"
	ReasonTokenMissing            = "token_missing"
	ReasonTokenMalformed          = "token_malformed"
	ReasonTokenExpired            = "token_expired"
	ReasonTokenScopeMismatch      = "token_scope_mismatch"
	ReasonTokenReplayed           = "token_replayed"
	ReasonTokenStoreFailure       = "token_store_failure"
)

// ErrAlreadyConsumed is returned by a ConsumptionStore when the token id was
// consumed before. Exactly one concurrent consumer may win.
var ErrAlreadyConsumed = errors.New("token already consumed")

// ConsumptionStore durably records single-use token consumption. ConsumeOnce
// must be a single atomic create shared across processes: one winner, every
// other caller gets ErrAlreadyConsumed.
type ConsumptionStore interface {
	ConsumeOnce(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// TokenClaims is the signed payload of a confirmation token.
type TokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenValidator validates signed, time-bounded, single-use confirmation
// tokens. Validation success and durable consumption recording are a single
// transaction: if recording fails the validation fails.
type TokenValidator struct {
	secret func() string
	skew   time.Duration
	store  ConsumptionStore
}

// NewTokenValidator creates a validator. The secret is read per call so a
// rotated secret takes effect without restart.
func NewTokenValidator(secret func() string, skew time.Duration, store ConsumptionStore) *TokenValidator {
	return &TokenValidator{secret: secret, skew: skew, store: store}
}

// Require validates the provided token against the expected scope and
// atomically marks its unique id consumed. Fails closed when no secret is
// configured.
func (v *TokenValidator) Require(ctx context.Context, provided, expectedScope string, now time.Time) (*TokenClaims, error) {
	secret := ""
	if v.secret != nil {
		secret = v.secret()
	}
	if secret == "" {
		return nil, execerrors.NewAuthzError("authz", "confirmation_token", "no confirmation secret configured").
			WithReason(ReasonTokenSecretUnconfigured)
	}
	if provided == "" {
		return nil, execerrors.NewAuthzError("authz", "confirmation_token", "no confirmation token provided").
			WithReason(ReasonTokenMissing)
	}

	claims := &TokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	_, err := parser.ParseWithClaims(provided, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		reason := ReasonTokenMalformed
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = ReasonTokenExpired
		}
		return nil, execerrors.Wrap(err, execerrors.CategoryAuthz, "authz", "confirmation_token").
			WithReason(reason)
	}

	if claims.Scope != expectedScope {
		return nil, execerrors.NewAuthzError("authz", "confirmation_token", "token scope does not match").
			WithReason(ReasonTokenScopeMismatch).
			WithContext("expected", expectedScope).
			WithContext("got", claims.Scope)
	}
	if claims.ID == "" {
		return nil, execerrors.NewAuthzError("authz", "confirmation_token", "token has no unique id").
			WithReason(ReasonTokenMalformed)
	}

	expiresAt := now.Add(v.skew)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := v.store.ConsumeOnce(ctx, claims.ID, expiresAt); err != nil {
		if errors.Is(err, ErrAlreadyConsumed) {
			return nil, execerrors.NewAuthzError("authz", "confirmation_token", "token was already used").
				WithReason(ReasonTokenReplayed).
				WithContext("token_id", claims.ID)
		}
		// Durable recording failed: validation must fail, never silently
		// proceed.
		return nil, execerrors.Wrap(err, execerrors.CategoryAuthz, "authz", "confirmation_token").
			WithReason(ReasonTokenStoreFailure)
	}

	return claims, nil
}

// MintToken signs a confirmation token. Minting is an operator-side concern;
// it lives here so tests and the CLI share one token format.
func MintToken(secret, scope string, id string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := TokenClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// MemoryConsumptionStore is a process-local ConsumptionStore. Suitable for
// tests and single-process deployments only; multi-process deployments must
// use the shared store implementations.
type MemoryConsumptionStore struct {
	mu       sync.Mutex
	consumed map[string]time.Time
}

// NewMemoryConsumptionStore creates an empty in-memory store.
func NewMemoryConsumptionStore() *MemoryConsumptionStore {
	return &MemoryConsumptionStore{consumed: make(map[string]time.Time)}
}

// ConsumeOnce implements ConsumptionStore.
func (m *MemoryConsumptionStore) ConsumeOnce(_ context.Context, tokenID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumed[tokenID]; ok {
		return ErrAlreadyConsumed
	}
	m.consumed[tokenID] = expiresAt
	return nil
}
