package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Validator verifies bearer credentials signed with the shared API secret.
// The token's "kid" header must name the configured API key so a cluster can
// rotate keypairs without ambiguity. Signature comparison inside the HMAC
// verification is constant-time.
type Validator struct {
	apiKey    string
	apiSecret []byte
}

// NewValidator creates a shared-secret validator for the given key pair.
func NewValidator(apiKey, apiSecret string) (*Validator, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	if len(apiSecret) < 32 {
		return nil, fmt.Errorf("api secret must be at least 32 characters (got %d)", len(apiSecret))
	}
	return &Validator{apiKey: apiKey, apiSecret: []byte(apiSecret)}, nil
}

// ValidateToken parses and verifies a token string: signature, nbf/exp, and
// key id. Any failure is reported uniformly so callers map it to a single
// unauthorized error without leaking which check failed.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing identity")
	}
	return claims, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if subtle.ConstantTimeCompare([]byte(kid), []byte(v.apiKey)) != 1 {
		return nil, fmt.Errorf("unknown key id")
	}
	return v.apiSecret, nil
}
