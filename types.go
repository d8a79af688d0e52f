package ironauth

import (
	"io"
	"log/slog"
	"time"

	"github.com/irontrack/ironauth/identity"
	internalaudit "github.com/irontrack/ironauth/internal/audit"
	internalmetrics "github.com/irontrack/ironauth/internal/metrics"
)

// Stage is a step of the authentication state machine. A request moves
// forward through the stages and stops at Authorized or Rejected.
type Stage uint8

const (
	StageTokenPresent Stage = iota
	StageTokenVerified
	StageIdentityResolved
	StagePolicyChecked
	StageAuthorized
	StageRejected
)

func (s Stage) String() string {
	switch s {
	case StageTokenPresent:
		return "token_present"
	case StageTokenVerified:
		return "token_verified"
	case StageIdentityResolved:
		return "identity_resolved"
	case StagePolicyChecked:
		return "policy_checked"
	case StageAuthorized:
		return "authorized"
	case StageRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Identity is the authorized principal handed to handlers. It never holds
// the password hash.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	Role      string
	Superuser bool
	Active    bool
	Version   uint32
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func newIdentity(rec identity.Record) *Identity {
	return &Identity{
		Subject:   rec.ID,
		Email:     rec.Email,
		Name:      rec.Name,
		Role:      rec.Role,
		Superuser: rec.Superuser,
		Active:    rec.Active,
		Version:   rec.Version,
	}
}

// TokenPair is the result of login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Requirement is a policy check applied after the identity is resolved.
// It returns false to reject the request as Forbidden.
type Requirement func(*Identity) bool

// RequireRole passes identities holding any of the given role slugs.
// Superusers always pass.
func RequireRole(slugs ...string) Requirement {
	return func(id *Identity) bool {
		if id.Superuser {
			return true
		}
		for _, s := range slugs {
			if id.Role == s {
				return true
			}
		}
		return false
	}
}

// RequireSuperuser passes superusers only.
func RequireSuperuser() Requirement {
	return func(id *Identity) bool {
		return id.Superuser
	}
}

// UserStore is the storage collaborator. See [identity.UserStore].
type UserStore = identity.UserStore

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that logs events through [log/slog].
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricAuthenticateSuccess        = internalmetrics.MetricAuthenticateSuccess
	MetricAuthenticateInvalidToken   = internalmetrics.MetricAuthenticateInvalidToken
	MetricAuthenticateUnknownSubject = internalmetrics.MetricAuthenticateUnknownSubject
	MetricAuthenticateInactive       = internalmetrics.MetricAuthenticateInactive
	MetricAuthenticateForbidden      = internalmetrics.MetricAuthenticateForbidden
	MetricAuthenticateUnavailable    = internalmetrics.MetricAuthenticateUnavailable
	MetricAuthenticateRetried        = internalmetrics.MetricAuthenticateRetried
	MetricLoginSuccess               = internalmetrics.MetricLoginSuccess
	MetricLoginFailure               = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited           = internalmetrics.MetricLoginRateLimited
	MetricRefreshSuccess             = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure             = internalmetrics.MetricRefreshFailure
	MetricRefreshRevoked             = internalmetrics.MetricRefreshRevoked
	MetricRefreshReuseDetected       = internalmetrics.MetricRefreshReuseDetected
	MetricLogout                     = internalmetrics.MetricLogout
	MetricLogoutAll                  = internalmetrics.MetricLogoutAll
	MetricAccountCreated             = internalmetrics.MetricAccountCreated
	MetricAccountCreationDuplicate   = internalmetrics.MetricAccountCreationDuplicate
	MetricPasswordChangeSuccess      = internalmetrics.MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld   = internalmetrics.MetricPasswordChangeInvalidOld
	MetricPasswordUpgraded           = internalmetrics.MetricPasswordUpgraded
	MetricAccountDisabled            = internalmetrics.MetricAccountDisabled
	MetricAccountEnabled             = internalmetrics.MetricAccountEnabled
	MetricAccountDeleted             = internalmetrics.MetricAccountDeleted
	MetricRoleChanged                = internalmetrics.MetricRoleChanged
	MetricInvalidationFailure        = internalmetrics.MetricInvalidationFailure
	MetricHashingFailure             = internalmetrics.MetricHashingFailure
	MetricCacheLocalHit              = internalmetrics.MetricCacheLocalHit
	MetricCacheSharedHit             = internalmetrics.MetricCacheSharedHit
	MetricCacheMiss                  = internalmetrics.MetricCacheMiss
	MetricCacheLoad                  = internalmetrics.MetricCacheLoad
	MetricCacheInvalidation          = internalmetrics.MetricCacheInvalidation
	MetricCacheDecodeError           = internalmetrics.MetricCacheDecodeError
	MetricCachePopulateSkipped       = internalmetrics.MetricCachePopulateSkipped
	MetricCacheSharedError           = internalmetrics.MetricCacheSharedError
	MetricHashPoolCompleted          = internalmetrics.MetricHashPoolCompleted
	MetricHashPoolRejected           = internalmetrics.MetricHashPoolRejected
	MetricAuthenticateLatency        = internalmetrics.MetricAuthenticateLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] table. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
