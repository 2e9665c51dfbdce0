// Package auth provides the token-validation boundary for connection admission.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a connection token fails validation.
var ErrInvalidToken = errors.New("invalid token")

// TokenValidator decides whether a connection token is acceptable. The hub
// treats this as an external collaborator: it only consumes the yes/no answer.
type TokenValidator interface {
	Validate(ctx context.Context, token string) error
}

// JWTValidator validates HMAC-signed JWTs against a shared secret.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for tokens signed with the given secret.
func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate parses the token and checks its signature and expiry.
func (v *JWTValidator) Validate(_ context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}

	return nil
}

// StaticValidator accepts a fixed set of tokens. Intended for development and
// tests.
type StaticValidator struct {
	tokens map[string]struct{}
}

// NewStaticValidator creates a validator accepting exactly the given tokens.
func NewStaticValidator(tokens ...string) *StaticValidator {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return &StaticValidator{tokens: set}
}

// Validate accepts the token if it is in the configured set.
func (v *StaticValidator) Validate(_ context.Context, token string) error {
	if _, ok := v.tokens[token]; !ok {
		return ErrInvalidToken
	}
	return nil
}
