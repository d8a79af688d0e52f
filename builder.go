package ironauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/irontrack/ironauth/identity"
	internalaudit "github.com/irontrack/ironauth/internal/audit"
	"github.com/irontrack/ironauth/internal/rate"
	"github.com/irontrack/ironauth/jwt"
	"github.com/irontrack/ironauth/password"
	"github.com/irontrack/ironauth/revocation"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. It is used once during initialization.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  UserStore
	logger *slog.Logger

	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client shared by the identity cache, the revocation
// ledger and the login throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for token issuance, verification and
// account timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads key material and starts the
// hashing pool and the audit dispatcher. Call [Engine.Close] to stop them.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("user store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	// -------- HASHING --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinLength,
		MaxPasswordBytes: cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}
	// Verified against when the email is unknown so that a miss costs the
	// same as a wrong password.
	decoy, err := hasher.Hash(strings.Repeat("x", cfg.Password.MinLength))
	if err != nil {
		return nil, err
	}

	// -------- IDENTITY CACHE --------
	cache, err := identity.New(b.redis, identity.Config{
		Prefix:                   cfg.Cache.Prefix,
		LocalSize:                cfg.Cache.LocalSize,
		LocalTTL:                 cfg.Cache.LocalTTL,
		SharedTTL:                cfg.Cache.SharedTTL,
		LoadTimeout:              cfg.Cache.LoadTimeout,
		ReadThroughOnSharedError: cfg.Cache.ReadThroughOnSharedError,
		Logger:                   logger,
	})
	if err != nil {
		return nil, err
	}

	// -------- REVOCATION --------
	ledger, err := revocation.New(b.redis, revocation.Config{
		Prefix: cfg.Revocation.Prefix,
		MinTTL: cfg.JWT.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	pool := password.NewPool(hasher, password.PoolConfig{
		Workers:       cfg.HasherPool.Workers,
		QueueSize:     cfg.HasherPool.QueueSize,
		SubmitTimeout: cfg.HasherPool.SubmitTimeout,
	})

	engine := &Engine{
		config:    cfg,
		logger:    logger.With("component", "ironauth"),
		tokens:    tokens,
		hasher:    pool,
		decoyHash: decoy,
		cache:     cache,
		ledger:    ledger,
		store:     b.store,
		metrics:   NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
			Logger:      logger,
		}, b.auditSink),
		now:   now,
		sleep: sleepContext,
	}
	engine.limiter = rate.New(b.redis, rate.Config{
		Prefix:                  cfg.Security.RateLimitPrefix,
		EnableIPThrottle:        cfg.Security.EnableIPThrottle,
		EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
		MaxLoginAttempts:        cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration:   cfg.Security.LoginCooldownDuration,
		MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
		RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
	})

	b.built = true

	return engine, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
