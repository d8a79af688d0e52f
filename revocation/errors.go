package revocation

import "errors"

var (
	// ErrRedisUnavailable wraps every ledger failure. Callers must treat it
	// as "revocation state unknown" and refuse the token.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrAlreadyConsumed is returned by Consume when the token id was
	// already spent or revoked.
	ErrAlreadyConsumed = errors.New("token already consumed")
)
