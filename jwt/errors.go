package jwt

import "errors"

var (
	// ErrInvalidSignature reports a token whose signature, algorithm or key id
	// could not be verified.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired reports a correctly signed token past its exp claim.
	ErrExpired = errors.New("token expired")
	// ErrMalformedClaims reports an unparsable token or a missing or invalid
	// mandatory claim.
	ErrMalformedClaims = errors.New("token claims malformed")
	// ErrWrongTokenType reports a valid token presented where the other type
	// was required.
	ErrWrongTokenType = errors.New("unexpected token type")
	// ErrNoSigningKey is returned by Issue on a verify-only manager.
	ErrNoSigningKey = errors.New("no signing key configured")
)
