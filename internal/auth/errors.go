package auth

import "errors"

// Sentinel errors for token verification.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTokenFormat is returned when a token is not shaped like a JWT.
	// No cryptographic work is attempted for such tokens.
	ErrTokenFormat = errors.New("format_invalid")

	// ErrTokenInvalid is returned when a well-formed token fails signature,
	// audience or expiry checks.
	ErrTokenInvalid = errors.New("token_invalid")
)
