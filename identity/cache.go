package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Config tunes the two cache tiers.
type Config struct {
	// Prefix namespaces every shared key and the eviction channel.
	Prefix string
	// LocalSize bounds the number of in-process entries.
	LocalSize int
	// LocalTTL is the lifetime of an in-process entry. It is also the upper
	// bound on how long another instance can serve a record after an
	// invalidation whose eviction notice it missed.
	LocalTTL time.Duration
	// SharedTTL is the lifetime of a Redis entry.
	SharedTTL time.Duration
	// LoadTimeout bounds a collapsed storage read. It is independent of the
	// deadlines of the requests waiting on it.
	LoadTimeout time.Duration
	// ReadThroughOnSharedError loads from storage when Redis cannot be read
	// instead of failing the lookup.
	ReadThroughOnSharedError bool
	Logger                   *slog.Logger
}

// DefaultConfig returns the production cache settings.
func DefaultConfig() Config {
	return Config{
		Prefix:      "ia",
		LocalSize:   4096,
		LocalTTL:    5 * time.Second,
		SharedTTL:   30 * time.Minute,
		LoadTimeout: 5 * time.Second,
	}
}

// Stats counts cache activity since construction.
type Stats struct {
	LocalHits       uint64
	SharedHits      uint64
	Misses          uint64
	Loads           uint64
	Invalidations   uint64
	DecodeErrors    uint64
	PopulateSkipped uint64
	SharedErrors    uint64
}

type counters struct {
	localHits       atomic.Uint64
	sharedHits      atomic.Uint64
	misses          atomic.Uint64
	loads           atomic.Uint64
	invalidations   atomic.Uint64
	decodeErrors    atomic.Uint64
	populateSkipped atomic.Uint64
	sharedErrors    atomic.Uint64
}

// Cache maps subject ids to identity records through a small in-process
// LRU in front of Redis.
//
// Writes and invalidations go to Redis first and to the local tier second.
// Concurrent misses for one subject share a single storage read.
type Cache struct {
	cfg    Config
	shared *sharedTier
	local  *expirable.LRU[string, Record]
	group  singleflight.Group
	logger *slog.Logger

	// mu orders local-tier population against invalidation: a record read
	// before an invalidation may only enter the local tier if no
	// invalidation happened since the read started.
	mu    sync.Mutex
	epoch atomic.Uint64

	stats counters
}

// New builds a cache on top of client.
func New(client redis.UniversalClient, cfg Config) (*Cache, error) {
	if client == nil {
		return nil, errors.New("identity cache requires a redis client")
	}
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = def.LocalSize
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = def.LocalTTL
	}
	if cfg.SharedTTL <= 0 {
		cfg.SharedTTL = def.SharedTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.LocalTTL > cfg.SharedTTL {
		return nil, errors.New("identity cache LocalTTL must not exceed SharedTTL")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Cache{
		cfg: cfg,
		shared: &sharedTier{
			redis:  client,
			prefix: cfg.Prefix,
			genTTL: 2*cfg.SharedTTL + cfg.LoadTimeout,
		},
		local:  expirable.NewLRU[string, Record](cfg.LocalSize, nil, cfg.LocalTTL),
		logger: logger.With("component", "identity_cache"),
	}, nil
}

// Get looks id up in the local tier, then in Redis. found is false on a
// miss in both tiers.
func (c *Cache) Get(ctx context.Context, id string) (rec Record, found bool, err error) {
	if rec, ok := c.local.Get(id); ok {
		c.stats.localHits.Add(1)
		return rec, true, nil
	}

	epoch := c.epoch.Load()
	raw, err := c.shared.get(ctx, id)
	if err != nil {
		c.stats.sharedErrors.Add(1)
		return Record{}, false, err
	}
	if raw == nil {
		c.stats.misses.Add(1)
		return Record{}, false, nil
	}

	rec, err = c.decode(ctx, id, raw)
	if err != nil {
		c.stats.misses.Add(1)
		return Record{}, false, nil
	}

	c.stats.sharedHits.Add(1)
	c.storeLocal(id, rec, epoch)
	return rec, true, nil
}

// Put stores rec under id with the given TTL, capped at SharedTTL. A zero
// ttl selects SharedTTL.
func (c *Cache) Put(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.cfg.SharedTTL {
		ttl = c.cfg.SharedTTL
	}
	payload, err := Encode(rec)
	if err != nil {
		return err
	}

	epoch := c.epoch.Load()
	if err := c.shared.set(ctx, id, payload, ttl); err != nil {
		c.stats.sharedErrors.Add(1)
		return err
	}
	c.storeLocal(id, rec.Public(), epoch)
	return nil
}

// Invalidate removes id from both tiers. Redis is cleared first; the local
// entry is removed even if Redis fails, and the Redis error is returned so
// the caller can fail its mutation.
//
// When Invalidate returns nil the next Get on this instance misses the
// local tier and the next Get on any instance misses Redis.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	sharedErr := c.shared.invalidate(ctx, id)
	if sharedErr != nil {
		c.stats.sharedErrors.Add(1)
	}

	c.evictLocal(id)
	c.group.Forget(id)
	c.stats.invalidations.Add(1)

	if sharedErr != nil {
		return sharedErr
	}

	if err := c.shared.publish(ctx, id); err != nil {
		c.logger.Warn("eviction notice not published", "subject", id, "error", err)
	}
	return nil
}

// Load returns the record for id, reading through to loader on a miss.
// Concurrent misses for the same id run loader once. The read runs under
// its own context bounded by LoadTimeout, so a caller whose ctx ends only
// abandons its own wait.
func (c *Cache) Load(ctx context.Context, id string, loader Loader) (Record, error) {
	if rec, ok := c.local.Get(id); ok {
		c.stats.localHits.Add(1)
		return rec, nil
	}

	ch := c.group.DoChan(id, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LoadTimeout)
		defer cancel()
		return c.fill(loadCtx, id, loader)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

func (c *Cache) fill(ctx context.Context, id string, loader Loader) (Record, error) {
	epoch := c.epoch.Load()

	raw, gen, err := c.shared.lookup(ctx, id)
	sharedOK := err == nil
	if err != nil {
		c.stats.sharedErrors.Add(1)
		if !c.cfg.ReadThroughOnSharedError {
			return Record{}, err
		}
		c.logger.Warn("shared tier unreadable, reading through", "subject", id, "error", err)
	}

	if raw != nil {
		if rec, err := c.decode(ctx, id, raw); err == nil {
			c.stats.sharedHits.Add(1)
			c.storeLocal(id, rec, epoch)
			return rec, nil
		}
	}

	c.stats.misses.Add(1)
	c.stats.loads.Add(1)
	rec, err := loader(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec = rec.Public()

	if sharedOK {
		payload, err := Encode(rec)
		if err != nil {
			return Record{}, err
		}
		written, err := c.shared.populate(ctx, id, gen, payload, c.cfg.SharedTTL)
		switch {
		case err != nil:
			c.stats.sharedErrors.Add(1)
			c.logger.Warn("shared tier population failed", "subject", id, "error", err)
		case !written:
			c.stats.populateSkipped.Add(1)
		}
	}

	c.storeLocal(id, rec, epoch)
	return rec, nil
}

func (c *Cache) decode(ctx context.Context, id string, raw []byte) (Record, error) {
	rec, err := Decode(raw)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		c.logger.Warn("dropping undecodable entry", "subject", id, "error", err)
		c.shared.drop(ctx, id)
		return Record{}, err
	}
	return rec, nil
}

// storeLocal adds rec unless an invalidation ran after epoch was sampled.
func (c *Cache) storeLocal(id string, rec Record, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch.Load() != epoch {
		c.stats.populateSkipped.Add(1)
		return
	}
	c.local.Add(id, rec)
}

func (c *Cache) evictLocal(id string) {
	c.mu.Lock()
	c.epoch.Add(1)
	c.local.Remove(id)
	c.mu.Unlock()
}

// Run consumes eviction notices published by other instances until ctx
// ends. It returns an error only if the subscription cannot be
// established.
func (c *Cache) Run(ctx context.Context) error {
	ps := c.shared.redis.Subscribe(ctx, c.shared.channel())
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("%w: subscribe: %v", ErrRedisUnavailable, err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.evictLocal(msg.Payload)
		}
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		LocalHits:       c.stats.localHits.Load(),
		SharedHits:      c.stats.sharedHits.Load(),
		Misses:          c.stats.misses.Load(),
		Loads:           c.stats.loads.Load(),
		Invalidations:   c.stats.invalidations.Load(),
		DecodeErrors:    c.stats.decodeErrors.Load(),
		PopulateSkipped: c.stats.populateSkipped.Load(),
		SharedErrors:    c.stats.sharedErrors.Load(),
	}
}

// Ping checks that the shared tier is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.shared.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Purge drops every local entry. Redis is left untouched.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.epoch.Add(1)
	c.local.Purge()
	c.mu.Unlock()
}

func (c *Cache) cachedLocally(id string) bool {
	return c.local.Contains(id)
}
