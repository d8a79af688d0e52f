// Package envconfig builds server settings from the environment and an
// optional .env file. Variables set in the process environment win over
// the file.
package envconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/irontrack/ironauth"
	"github.com/irontrack/ironauth/middleware"
	"github.com/joho/godotenv"
)

// Settings is everything cmd/ironauth-server needs to start.
type Settings struct {
	Engine      ironauth.Config
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string
	LogLevel    slog.Level
	Migrate     bool

	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	// Empty means the client address is the TCP peer.
	TrustedProxies []*net.IPNet
}

// Load reads envFile, when it exists, and the process environment.
func Load(envFile string) (Settings, error) {
	return load(envFile, os.LookupEnv)
}

func load(envFile string, lookupEnv func(string) (string, bool)) (Settings, error) {
	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("read %s: %w", envFile, err)
		}
		if vals != nil {
			fileVals = vals
		}
	}

	p := &parser{lookup: func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}}

	s := Settings{
		Engine:      ironauth.DefaultConfig(),
		HTTPAddr:    p.str("IRONAUTH_HTTP_ADDR", ":8080"),
		DatabaseURL: p.str("DATABASE_URL", ""),
		RedisURL:    p.str("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:    p.level("LOG_LEVEL", slog.LevelInfo),
		Migrate:     p.boolean("IRONAUTH_MIGRATE", false),
	}
	if s.DatabaseURL == "" {
		p.fail("DATABASE_URL", errors.New("required"))
	}
	if v, ok := p.raw("IRONAUTH_TRUSTED_PROXIES"); ok {
		proxies, err := middleware.ParseProxies(strings.Split(v, ","))
		if err != nil {
			p.fail("IRONAUTH_TRUSTED_PROXIES", err)
		}
		s.TrustedProxies = proxies
	}

	cfg := &s.Engine

	cfg.JWT.SigningMethod = p.str("JWT_SIGNING_METHOD", cfg.JWT.SigningMethod)
	cfg.JWT.PrivateKey = p.key("JWT_PRIVATE_KEY")
	cfg.JWT.PublicKey = p.key("JWT_PUBLIC_KEY")
	cfg.JWT.KeyID = p.str("JWT_KEY_ID", cfg.JWT.KeyID)
	cfg.JWT.Issuer = p.str("JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.Audience = p.str("JWT_AUDIENCE", cfg.JWT.Audience)
	cfg.JWT.AccessTTL = p.duration("IRONAUTH_ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.JWT.RefreshTTL = p.duration("IRONAUTH_REFRESH_TTL", cfg.JWT.RefreshTTL)
	cfg.JWT.Leeway = p.duration("IRONAUTH_TOKEN_LEEWAY", cfg.JWT.Leeway)

	cfg.Password.Memory = uint32(p.integer("IRONAUTH_HASH_MEMORY_KIB", int(cfg.Password.Memory)))
	cfg.Password.Time = uint32(p.integer("IRONAUTH_HASH_TIME", int(cfg.Password.Time)))
	cfg.Password.Parallelism = uint8(p.bounded("IRONAUTH_HASH_PARALLELISM", int(cfg.Password.Parallelism), 1, 255))
	cfg.Password.SaltLength = uint32(p.integer("IRONAUTH_HASH_SALT_LENGTH", int(cfg.Password.SaltLength)))
	cfg.Password.KeyLength = uint32(p.integer("IRONAUTH_HASH_KEY_LENGTH", int(cfg.Password.KeyLength)))
	cfg.Password.UpgradeOnLogin = p.boolean("IRONAUTH_HASH_UPGRADE_ON_LOGIN", cfg.Password.UpgradeOnLogin)
	cfg.HasherPool.Workers = p.integer("IRONAUTH_HASH_WORKERS", cfg.HasherPool.Workers)
	cfg.HasherPool.QueueSize = p.integer("IRONAUTH_HASH_QUEUE", cfg.HasherPool.QueueSize)
	cfg.HasherPool.SubmitTimeout = p.duration("IRONAUTH_HASH_SUBMIT_TIMEOUT", cfg.HasherPool.SubmitTimeout)

	cfg.Cache.Prefix = p.str("IRONAUTH_CACHE_PREFIX", cfg.Cache.Prefix)
	cfg.Cache.LocalSize = p.integer("IRONAUTH_CACHE_LOCAL_SIZE", cfg.Cache.LocalSize)
	cfg.Cache.LocalTTL = p.duration("IRONAUTH_CACHE_LOCAL_TTL", cfg.Cache.LocalTTL)
	cfg.Cache.SharedTTL = p.duration("IRONAUTH_CACHE_SHARED_TTL", cfg.Cache.SharedTTL)
	cfg.Cache.MaxStaleness = p.duration("IRONAUTH_CACHE_MAX_STALENESS", cfg.Cache.MaxStaleness)

	cfg.Auth.RotateRefreshTokens = p.boolean("IRONAUTH_ROTATE_REFRESH", cfg.Auth.RotateRefreshTokens)
	cfg.Auth.RetryBackoff = p.duration("IRONAUTH_RETRY_BACKOFF", cfg.Auth.RetryBackoff)
	cfg.Auth.SystemAdminEmail = p.str("IRONAUTH_SYSTEM_ADMIN_EMAIL", cfg.Auth.SystemAdminEmail)
	cfg.Auth.DefaultRole = p.str("IRONAUTH_DEFAULT_ROLE", cfg.Auth.DefaultRole)

	cfg.Cookie.Secure = p.boolean("IRONAUTH_COOKIE_SECURE", cfg.Cookie.Secure)
	cfg.Cookie.Domain = p.str("IRONAUTH_COOKIE_DOMAIN", cfg.Cookie.Domain)
	cfg.Cookie.RefreshPath = p.str("IRONAUTH_REFRESH_COOKIE_PATH", cfg.Cookie.RefreshPath)
	cfg.Cookie.AllowBearer = p.boolean("IRONAUTH_ALLOW_BEARER", cfg.Cookie.AllowBearer)

	cfg.Security.EnableLoginThrottle = p.boolean("IRONAUTH_LOGIN_THROTTLE", cfg.Security.EnableLoginThrottle)
	cfg.Security.MaxLoginAttempts = p.integer("IRONAUTH_MAX_LOGIN_ATTEMPTS", cfg.Security.MaxLoginAttempts)
	cfg.Security.EnableRefreshThrottle = p.boolean("IRONAUTH_REFRESH_THROTTLE", cfg.Security.EnableRefreshThrottle)

	cfg.Audit.Enabled = p.boolean("IRONAUTH_AUDIT", cfg.Audit.Enabled)
	cfg.Metrics.Enabled = p.boolean("IRONAUTH_METRICS", true)
	cfg.Metrics.EnableLatencyHistograms = p.boolean("IRONAUTH_LATENCY_HISTOGRAMS", cfg.Metrics.Enabled)

	if err := p.err(); err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("engine config: %w", err)
	}
	return s, nil
}

// parser collects every malformed variable so that one run reports all
// of them.
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail(key, fmt.Errorf("invalid non-negative integer %q", v))
		return def
	}
	return n
}

func (p *parser) bounded(key string, def, lo, hi int) int {
	n := p.integer(key, def)
	if n < lo || n > hi {
		p.fail(key, fmt.Errorf("must be between %d and %d", lo, hi))
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid boolean %q", v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, err)
		return def
	}
	return lvl
}

// key reads key material from KEY, or from the file named by KEY_FILE.
func (p *parser) key(key string) []byte {
	if v, ok := p.raw(key); ok {
		return []byte(v)
	}
	path, ok := p.raw(key + "_FILE")
	if !ok {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		p.fail(key+"_FILE", err)
		return nil
	}
	return b
}
