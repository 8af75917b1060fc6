// Package adminauth issues and validates the bearer tokens guarding the
// administrative API. Tokens are HS256 JWTs; there is a single operator realm,
// no per-resource permissions.
package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "radgate"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("adminauth: invalid token")

// Claims carried by an admin token.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator signs and verifies admin tokens with a shared secret.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

type Option func(*Authenticator)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func New(secret string, opts ...Option) (*Authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("adminauth: secret is not configured")
	}
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// GenerateToken signs a JWT for the given operator using HS256.
func (a *Authenticator) GenerateToken(operator string, ttl time.Duration) (string, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", errors.New("adminauth: operator is required")
	}
	if ttl <= 0 {
		return "", errors.New("adminauth: ttl must be greater than zero")
	}

	now := a.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("adminauth: sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (a *Authenticator) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := a.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (a *Authenticator) validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := a.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

type ctxKey string

const operatorKey ctxKey = "adminauth_operator"

// ContextWithOperator stores the authenticated operator in the context.
func ContextWithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, strings.TrimSpace(operator))
}

// OperatorFromContext extracts the authenticated operator from context.
func OperatorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(operatorKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
