package auth

import "errors"

var (
	// ErrTokenInvalid is returned when a JWT fails signature, expiry or
	// claim validation.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrScopeMissing is returned when a valid token lacks the scope an
	// operation requires.
	ErrScopeMissing = errors.New("auth: missing required scope")
)
