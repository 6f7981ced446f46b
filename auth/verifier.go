// Package auth verifies the bearer tokens clients present in "initialize".
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/RAPD/rapd-relay/logging"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and missing claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when now is outside [iat, exp].
	ErrTokenExpired = errors.New("token expired")

	// ErrVerifyTimeout is returned when verification does not finish in time.
	ErrVerifyTimeout = errors.New("token verification timed out")
)

// Claims is what the relay needs from a verified token.
type Claims struct {
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Valid reports whether now lies in [IssuedAt, ExpiresAt], inclusive, at
// one-second resolution.
func (c Claims) Valid(now time.Time) bool {
	n := now.Unix()
	return c.IssuedAt.Unix() <= n && n <= c.ExpiresAt.Unix()
}

// Verifier validates a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// SecretSource yields the current HS256 secret.
type SecretSource interface {
	Secret() []byte
}

// StaticSecret is a fixed secret.
type StaticSecret []byte

// Secret implements SecretSource.
func (s StaticSecret) Secret() []byte { return s }

// tokenClaims is the token payload issued by the portal login flow: the
// principal id is carried in "_id", newer tokens also set "sub".
type tokenClaims struct {
	UserID string `json:"_id"`
	jwt.RegisteredClaims
}

var _ Verifier = (*JWTVerifier)(nil)

// JWTVerifier verifies HS256 JWTs.
type JWTVerifier struct {
	logger  logging.Logger
	secret  SecretSource
	timeout time.Duration
	now     func() time.Time
	parser  *jwt.Parser
}

// JWTVerifierOption configures a JWTVerifier.
type JWTVerifierOption func(*JWTVerifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) JWTVerifierOption {
	return func(v *JWTVerifier) { v.now = now }
}

// WithTimeout bounds a single Verify call. Zero disables the bound.
func WithTimeout(d time.Duration) JWTVerifierOption {
	return func(v *JWTVerifier) { v.timeout = d }
}

// NewJWTVerifier creates a verifier using secret.
func NewJWTVerifier(logger logging.Logger, secret SecretSource, opts ...JWTVerifierOption) *JWTVerifier {
	v := &JWTVerifier{
		logger:  logging.ForComponent(logger, logging.ComponentVerifier),
		secret:  secret,
		timeout: 5 * time.Second,
		now:     time.Now,
		// Time claims are checked by Claims.Valid so the boundaries are inclusive.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verifyResult struct {
	claims Claims
	err    error
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	start := time.Now()
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	done := make(chan verifyResult, 1)
	go func() {
		c, err := v.verify(token)
		done <- verifyResult{claims: c, err: err}
	}()

	var res verifyResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w: %v", ErrVerifyTimeout, ctx.Err())
	}

	verifyDuration.Observe(time.Since(start).Seconds())
	verificationsTotal.WithLabelValues(outcome(res.err)).Inc()
	return res.claims, res.err
}

func (v *JWTVerifier) verify(token string) (Claims, error) {
	var tc tokenClaims
	_, err := v.parser.ParseWithClaims(token, &tc, func(*jwt.Token) (interface{}, error) {
		secret := v.secret.Secret()
		if len(secret) == 0 {
			return nil, errors.New("no signing secret loaded")
		}
		return secret, nil
	})
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}

	if tc.IssuedAt == nil || tc.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: iat and exp are required", ErrInvalidToken)
	}

	principal := tc.UserID
	if principal == "" {
		principal = tc.Subject
	}
	if principal == "" {
		return Claims{}, fmt.Errorf("%w: no principal", ErrInvalidToken)
	}

	claims := Claims{
		PrincipalID: principal,
		IssuedAt:    tc.IssuedAt.Time,
		ExpiresAt:   tc.ExpiresAt.Time,
	}
	if !claims.Valid(v.now()) {
		return Claims{}, fmt.Errorf("%w: valid %s to %s",
			ErrTokenExpired, claims.IssuedAt.UTC().Format(time.RFC3339), claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return claims, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrVerifyTimeout):
		return "timeout"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "invalid"
	}
}
