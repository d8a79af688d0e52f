package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// populateScript writes an entry only if the subject's generation is still
// the one observed when the miss was detected. An invalidation in between
// bumps the generation and the stale write is dropped.
const populateScript = `
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

var populateLua = redis.NewScript(populateScript)

// sharedTier is the Redis side of the cache. Every method is one round trip.
type sharedTier struct {
	redis  redis.UniversalClient
	prefix string
	genTTL time.Duration
}

func (s *sharedTier) entryKey(id string) string {
	return s.prefix + ":u:" + id
}

func (s *sharedTier) genKey(id string) string {
	return s.prefix + ":g:" + id
}

func (s *sharedTier) channel() string {
	return s.prefix + ":evict"
}

// lookup returns the raw entry (nil on miss) and the current generation.
func (s *sharedTier) lookup(ctx context.Context, id string) ([]byte, string, error) {
	vals, err := s.redis.MGet(ctx, s.entryKey(id), s.genKey(id)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	gen := "0"
	if len(vals) == 2 {
		if g, ok := vals[1].(string); ok {
			gen = g
		}
	}

	if len(vals) == 0 || vals[0] == nil {
		return nil, gen, nil
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, nil
	}
	return []byte(raw), gen, nil
}

func (s *sharedTier) get(ctx context.Context, id string) ([]byte, error) {
	raw, err := s.redis.Get(ctx, s.entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return raw, nil
}

func (s *sharedTier) set(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.entryKey(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// populate reports whether the entry was written.
func (s *sharedTier) populate(ctx context.Context, id, gen string, payload []byte, ttl time.Duration) (bool, error) {
	res, err := populateLua.Run(ctx, s.redis,
		[]string{s.entryKey(id), s.genKey(id)},
		gen, payload, strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// invalidate deletes the entry and bumps the generation in one MULTI.
func (s *sharedTier) invalidate(ctx context.Context, id string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.genKey(id))
		pipe.PExpire(ctx, s.genKey(id), s.genTTL)
		pipe.Del(ctx, s.entryKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *sharedTier) drop(ctx context.Context, id string) {
	_ = s.redis.Del(ctx, s.entryKey(id)).Err()
}

func (s *sharedTier) publish(ctx context.Context, id string) error {
	return s.redis.Publish(ctx, s.channel(), id).Err()
}
