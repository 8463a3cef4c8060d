package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope names a capability a token grants.
type Scope string

// Known scopes.
const (
	// ScopeRead allows listing and observing entities.
	ScopeRead Scope = "read"
	// ScopeControl allows dispatching commands to entities.
	ScopeControl Scope = "control"
)

// CustomClaims extends JWT standard claims with the token's granted scopes.
type CustomClaims struct {
	jwt.RegisteredClaims
	Scopes []Scope `json:"scopes"`
}

// HasScope reports whether the token grants the given scope.
func (c *CustomClaims) HasScope(s Scope) bool {
	for _, granted := range c.Scopes {
		if granted == s {
			return true
		}
	}
	return false
}

// GenerateToken creates a signed JWT access token carrying the given scopes.
// Tokens are validated by signature only (no store lookup).
func GenerateToken(subject string, scopes []Scope, secret string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = 15
	}

	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a JWT access token, returning its claims.
// It checks the signature, expiry, and required fields.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}
