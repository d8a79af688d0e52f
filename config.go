package ironauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override what differs; the zero value is not valid.
type Config struct {
	JWT        JWTConfig
	Password   PasswordConfig
	HasherPool HasherPoolConfig
	Cache      CacheConfig
	Revocation RevocationConfig
	Auth       AuthConfig
	Cookie     CookieConfig
	Security   SecurityConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token lifetimes and key material.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "es256"
	PrivateKey    []byte // JWK JSON, PEM or raw ed25519
	PublicKey     []byte // optional; derived from PrivateKey when empty
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

// HasherPoolConfig sizes the worker pool that runs Argon2.
type HasherPoolConfig struct {
	Workers       int // 0 selects half the CPUs
	QueueSize     int
	SubmitTimeout time.Duration
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig controls the two identity cache tiers.
//
// LocalTTL <= SharedTTL <= MaxStaleness must hold. MaxStaleness is the
// longest time any instance may authorize against a record that has since
// changed in storage when an invalidation could not reach it.
type CacheConfig struct {
	Prefix                   string
	LocalSize                int
	LocalTTL                 time.Duration
	SharedTTL                time.Duration
	MaxStaleness             time.Duration
	LoadTimeout              time.Duration
	ReadThroughOnSharedError bool
}

// RevocationConfig controls the revocation ledger.
type RevocationConfig struct {
	Prefix string
}

/*
====================================
AUTH CONFIG
====================================
*/

// AuthConfig holds authenticator policy.
type AuthConfig struct {
	// RotateRefreshTokens consumes a refresh token on use so it cannot be
	// replayed.
	RotateRefreshTokens bool
	// RetryBackoff is the base delay before the single retry of a
	// transient identity lookup failure. Up to 50% jitter is added.
	RetryBackoff time.Duration
	// SystemAdminEmail names the account no one may modify through the
	// engine.
	SystemAdminEmail string
	DefaultRole      string
	SuperuserRole    string
}

// CookieConfig controls the transport cookies.
type CookieConfig struct {
	Secure      bool
	Domain      string
	AccessPath  string
	RefreshPath string
	AllowBearer bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds throttling settings.
type SecurityConfig struct {
	EnableLoginThrottle     bool
	EnableIPThrottle        bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
	RateLimitPrefix         string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// SinkTimeout bounds a single sink call. Zero disables the deadline.
	SinkTimeout time.Duration
}

// MetricsConfig toggles in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Key material must still be
// supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			MaxFutureIAT:  time.Minute,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    1,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      6,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		HasherPool: HasherPoolConfig{
			SubmitTimeout: time.Second,
		},
		Cache: CacheConfig{
			Prefix:       "ia",
			LocalSize:    4096,
			LocalTTL:     5 * time.Second,
			SharedTTL:    30 * time.Minute,
			MaxStaleness: 30 * time.Minute,
			LoadTimeout:  5 * time.Second,
		},
		Revocation: RevocationConfig{
			Prefix: "revoked",
		},
		Auth: AuthConfig{
			RotateRefreshTokens: true,
			RetryBackoff:        25 * time.Millisecond,
			DefaultRole:         "application-access",
			SuperuserRole:       "superuser",
		},
		Cookie: CookieConfig{
			Secure:      true,
			AccessPath:  "/",
			RefreshPath: "/",
		},
		Security: SecurityConfig{
			EnableLoginThrottle:     true,
			EnableIPThrottle:        true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
			RateLimitPrefix:         "rl",
		},
		Audit: AuditConfig{
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// -------- JWT --------
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "", "ed25519", "es256":
	default:
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("JWT requires PrivateKey, PublicKey or VerifyKeys")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// -------- PASSWORD --------
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.HasherPool.Workers < 0 || c.HasherPool.QueueSize < 0 {
		return errors.New("HasherPool sizes must be >= 0")
	}
	if c.HasherPool.SubmitTimeout < 0 {
		return errors.New("HasherPool.SubmitTimeout must be >= 0")
	}

	// -------- CACHE --------
	if c.Cache.LocalTTL <= 0 || c.Cache.SharedTTL <= 0 {
		return errors.New("Cache TTLs must be > 0")
	}
	if c.Cache.LocalTTL > c.Cache.SharedTTL {
		return errors.New("Cache LocalTTL must be <= SharedTTL")
	}
	if c.Cache.MaxStaleness > 0 && c.Cache.SharedTTL > c.Cache.MaxStaleness {
		return errors.New("Cache SharedTTL must be <= MaxStaleness")
	}
	if c.Cache.LoadTimeout <= 0 {
		return errors.New("Cache LoadTimeout must be > 0")
	}
	if c.Cache.Prefix == c.Revocation.Prefix && c.Cache.Prefix != "" {
		return errors.New("Cache and Revocation prefixes must differ")
	}

	// -------- AUTH --------
	if c.Auth.RetryBackoff < 0 || c.Auth.RetryBackoff > time.Second {
		return errors.New("Auth RetryBackoff must be between 0 and 1s")
	}
	if strings.TrimSpace(c.Auth.DefaultRole) == "" {
		return errors.New("Auth DefaultRole is required")
	}

	// -------- SECURITY --------
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("LoginCooldownDuration must be > 0")
		}
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}

	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
