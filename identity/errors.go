package identity

import "errors"

var (
	// ErrNotFound is returned by stores when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned by CreateUser and UpdateProfile when the
	// email is already taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUnknownRole is returned by CreateUser and SetRole when the role slug
	// does not exist.
	ErrUnknownRole = errors.New("unknown role")
	// ErrRedisUnavailable wraps shared tier failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrCorruptEntry reports a cached payload that could not be decoded.
	ErrCorruptEntry = errors.New("corrupt identity cache entry")
)
