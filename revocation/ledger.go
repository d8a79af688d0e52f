package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config tunes the ledger.
type Config struct {
	// Prefix namespaces ledger keys. Defaults to "revoked".
	Prefix string
	// MinTTL is the floor applied to every revocation entry. It should be at
	// least the refresh token lifetime so an entry never expires while the
	// token it blocks is still valid.
	MinTTL time.Duration
}

// Ledger records revoked token ids and per-subject revocation generations
// in Redis.
//
// Keys:
//
//	<prefix>:<jti>      revoked or consumed token id
//	<prefix>:g:<sub>    revocation generation of the subject
//
// Generation keys never expire. If one reset to zero, a token stamped with
// a higher generation would pass a later revoke-all.
type Ledger struct {
	redis  redis.UniversalClient
	prefix string
	minTTL time.Duration
}

// New creates a ledger on top of client.
func New(client redis.UniversalClient, cfg Config) (*Ledger, error) {
	if client == nil {
		return nil, errors.New("revocation ledger requires a redis client")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "revoked"
	}
	if cfg.MinTTL <= 0 {
		return nil, errors.New("revocation ledger requires a positive MinTTL")
	}
	return &Ledger{
		redis:  client,
		prefix: cfg.Prefix,
		minTTL: cfg.MinTTL,
	}, nil
}

func (l *Ledger) tokenKey(jti string) string {
	return l.prefix + ":" + jti
}

func (l *Ledger) generationKey(subject string) string {
	return l.prefix + ":g:" + subject
}

func (l *Ledger) clamp(ttl time.Duration) time.Duration {
	if ttl < l.minTTL {
		return l.minTTL
	}
	return ttl
}

// Revoke marks jti as revoked for at least ttl. Revoking twice is not an
// error.
func (l *Ledger) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("empty token id")
	}
	if err := l.redis.Set(ctx, l.tokenKey(jti), 1, l.clamp(ttl)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked or consumed.
func (l *Ledger) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.tokenKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Consume atomically marks jti as spent. Exactly one of several concurrent
// callers for the same jti gets a nil error; the others get
// [ErrAlreadyConsumed].
func (l *Ledger) Consume(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("empty token id")
	}
	ok, err := l.redis.SetNX(ctx, l.tokenKey(jti), 1, l.clamp(ttl)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return ErrAlreadyConsumed
	}
	return nil
}

// RevokeAll retires every refresh token issued to subject so far and
// returns the new generation. Tokens issued afterwards carry the new
// generation and stay valid, whatever their issue time.
func (l *Ledger) RevokeAll(ctx context.Context, subject string) (uint64, error) {
	if subject == "" {
		return 0, errors.New("empty subject")
	}
	gen, err := l.redis.Incr(ctx, l.generationKey(subject)).Uint64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return gen, nil
}

// Generation returns the subject's current revocation generation, zero if
// the subject was never revoked. Refresh tokens must be stamped with it.
func (l *Ledger) Generation(ctx context.Context, subject string) (uint64, error) {
	gen, err := l.redis.Get(ctx, l.generationKey(subject)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return gen, nil
}

// Check reports whether a refresh token is revoked, either by its own id
// or because it carries a generation older than the subject's. It also
// returns the current generation for stamping a replacement token. Both
// keys are read in one round trip.
func (l *Ledger) Check(ctx context.Context, jti, subject string, gen uint64) (revoked bool, current uint64, err error) {
	var (
		exists *redis.IntCmd
		stored *redis.StringCmd
	)
	_, err = l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, l.tokenKey(jti))
		stored = pipe.Get(ctx, l.generationKey(subject))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	current, err = stored.Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		current = 0
	case err != nil:
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return exists.Val() > 0 || gen < current, current, nil
}

// Ping checks that Redis is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
