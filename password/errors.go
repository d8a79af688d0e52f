package password

import "errors"

var (
	// ErrPasswordLength reports a password outside the configured length limits.
	ErrPasswordLength = errors.New("password length out of policy")
	// ErrInvalidHash reports a stored hash that cannot be parsed.
	ErrInvalidHash = errors.New("invalid password hash")
	// ErrPoolClosed is returned for jobs submitted after Close.
	ErrPoolClosed = errors.New("hashing pool closed")
	// ErrPoolSaturated is returned when no worker slot frees up within the
	// submit timeout.
	ErrPoolSaturated = errors.New("hashing pool saturated")
	// ErrHashingFailed reports a worker that could not complete a job.
	ErrHashingFailed = errors.New("hashing failed")
)
