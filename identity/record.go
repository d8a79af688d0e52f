package identity

import (
	"context"
	"time"
)

// Record is the authorization snapshot of a user account. It is owned by
// the storage layer; caches hold copies and callers must not mutate shared
// instances.
type Record struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Active       bool
	Superuser    bool
	Version      uint32
	UpdatedAt    time.Time
	JoinedAt     time.Time
}

// Public returns a copy of r without the password hash.
func (r Record) Public() Record {
	r.PasswordHash = ""
	return r
}

// HasRole reports whether r holds any of the given role slugs.
func (r Record) HasRole(slugs ...string) bool {
	for _, s := range slugs {
		if r.Role == s {
			return true
		}
	}
	return false
}

// Store is the read side of the storage collaborator.
// Both lookups return [ErrNotFound] when no user matches.
type Store interface {
	FindUserByID(ctx context.Context, id string) (Record, error)
	FindUserByEmail(ctx context.Context, email string) (Record, error)
}

// Mutator is the write side of the storage collaborator. Every method that
// changes an existing user must be wrapped by a synchronous cache
// invalidation of that user.
type Mutator interface {
	CreateUser(ctx context.Context, rec Record) (Record, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetRole(ctx context.Context, id, role string) error
	UpdateProfile(ctx context.Context, id, name, email string) error
	DeleteUser(ctx context.Context, id string) error
}

// UserStore combines both sides.
type UserStore interface {
	Store
	Mutator
}

// Loader fetches a record from the source of truth on a cache miss.
type Loader func(ctx context.Context, id string) (Record, error)
