package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-at-least-32-characters-long"

func TestGenerateAndParseToken(t *testing.T) {
	signed, err := GenerateToken("user-1", []Scope{ScopeRead, ScopeControl}, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(signed, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-1")
	}
	if !claims.HasScope(ScopeControl) {
		t.Error("expected control scope")
	}
	if !claims.HasScope(ScopeRead) {
		t.Error("expected read scope")
	}
}

func TestHasScope(t *testing.T) {
	claims := &CustomClaims{Scopes: []Scope{ScopeRead}}
	if !claims.HasScope(ScopeRead) {
		t.Error("HasScope(read) = false, want true")
	}
	if claims.HasScope(ScopeControl) {
		t.Error("HasScope(control) = true, want false")
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	signed, err := GenerateToken("user-1", []Scope{ScopeRead}, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := ParseToken(signed, "a-completely-different-secret-value-here"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	now := time.Now().Add(-time.Hour)
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Scopes: []Scope{ScopeRead},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseTokenMissingSubject(t *testing.T) {
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Scopes: []Scope{ScopeRead},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseTokenGarbage(t *testing.T) {
	if _, err := ParseToken("not.a.jwt", testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}
