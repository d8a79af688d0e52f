package ironauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/irontrack/ironauth/identity"
	internalaudit "github.com/irontrack/ironauth/internal/audit"
	"github.com/irontrack/ironauth/internal/rate"
	"github.com/irontrack/ironauth/jwt"
	"github.com/irontrack/ironauth/password"
	"github.com/irontrack/ironauth/revocation"
)

// Engine authenticates requests, issues token pairs and applies account
// mutations with synchronous cache invalidation. Build one with [New].
//
// An Engine is safe for concurrent use. Its configuration is fixed at
// Build time.
type Engine struct {
	config    Config
	logger    *slog.Logger
	tokens    *jwt.Manager
	hasher    *password.Pool
	decoyHash string
	cache     *identity.Cache
	ledger    *revocation.Ledger
	store     UserStore
	limiter   *rate.Limiter
	metrics   *Metrics
	audit     *internalaudit.Dispatcher

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Close stops the hashing pool and flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.hasher.Close()
	e.audit.Close()
}

// Run listens for eviction notices from other instances until ctx ends.
// Without it, peers' invalidations reach this instance only when local
// entries expire.
func (e *Engine) Run(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.cache.Run(ctx)
}

// Ping reports whether Redis and the storage collaborator are reachable
// enough to serve requests. Storage is probed only if it implements
// Ping(ctx) error.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	var errs []error
	if err := e.cache.Ping(ctx); err != nil {
		errs = append(errs, err)
	}
	if p, ok := e.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublicJWKS returns the verification keys as a JSON Web Key Set.
func (e *Engine) PublicJWKS() ([]byte, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.tokens.PublicJWKS()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns engine counters merged with the identity cache
// and hashing pool counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil || !e.metrics.Enabled() {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	snap := e.metrics.Snapshot()

	cs := e.cache.Stats()
	snap.Counters[MetricCacheLocalHit] = cs.LocalHits
	snap.Counters[MetricCacheSharedHit] = cs.SharedHits
	snap.Counters[MetricCacheMiss] = cs.Misses
	snap.Counters[MetricCacheLoad] = cs.Loads
	snap.Counters[MetricCacheInvalidation] = cs.Invalidations
	snap.Counters[MetricCacheDecodeError] = cs.DecodeErrors
	snap.Counters[MetricCachePopulateSkipped] = cs.PopulateSkipped
	snap.Counters[MetricCacheSharedError] = cs.SharedErrors

	ps := e.hasher.Stats()
	snap.Counters[MetricHashPoolCompleted] = ps.Completed
	snap.Counters[MetricHashPoolRejected] = ps.Rejected

	return snap
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

// Authenticate verifies an access token, resolves its subject and applies
// reqs. On success the returned Identity reflects the stored record, not
// the token claims. Every failure is a *[Rejection]; use [ReasonOf] to
// classify it.
//
// Revocation is not consulted for access tokens. A deactivated account is
// rejected on its next request through the active flag; otherwise an access
// token lives until it expires.
func (e *Engine) Authenticate(ctx context.Context, token string, reqs ...Requirement) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	id, err := e.authenticate(ctx, token, reqs)
	e.metricObserve(MetricAuthenticateLatency, time.Since(start))

	switch ReasonOf(err) {
	case ReasonNone:
		e.metricInc(MetricAuthenticateSuccess)
	case ReasonInvalidToken:
		e.metricInc(MetricAuthenticateInvalidToken)
	case ReasonUnknownSubject:
		e.metricInc(MetricAuthenticateUnknownSubject)
	case ReasonAccountInactive:
		e.metricInc(MetricAuthenticateInactive)
	case ReasonForbidden:
		e.metricInc(MetricAuthenticateForbidden)
	default:
		e.metricInc(MetricAuthenticateUnavailable)
	}

	return id, err
}

func (e *Engine) authenticate(ctx context.Context, token string, reqs []Requirement) (*Identity, error) {
	if token == "" {
		return nil, reject(StageTokenPresent, ReasonInvalidToken, ErrInvalidToken)
	}

	claims, err := e.tokens.VerifyAs(token, jwt.TypeAccess)
	if err != nil {
		return nil, reject(StageTokenPresent, ReasonInvalidToken, errors.Join(ErrInvalidToken, err))
	}

	rec, rej := e.resolveSubject(ctx, claims.Subject)
	if rej != nil {
		return nil, rej
	}

	id := e.identityFor(rec)
	id.TokenID = claims.ID
	id.IssuedAt = claims.IssuedAt.Time
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}

	for _, req := range reqs {
		if req != nil && !req(id) {
			return nil, reject(StageIdentityResolved, ReasonForbidden, ErrForbidden)
		}
	}

	return id, nil
}

// resolveSubject loads the record for a verified subject and applies the
// active flag. Rejections are reported from StageTokenVerified or
// StageIdentityResolved.
func (e *Engine) resolveSubject(ctx context.Context, subject string) (identity.Record, *Rejection) {
	rec, err := e.resolve(ctx, subject)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return identity.Record{}, reject(StageTokenVerified, ReasonUnknownSubject, errors.Join(ErrUnknownSubject, err))
	case err != nil:
		return identity.Record{}, reject(StageTokenVerified, ReasonUnavailable, errors.Join(ErrUnavailable, err))
	}
	if !rec.Active {
		return identity.Record{}, reject(StageIdentityResolved, ReasonAccountInactive, ErrAccountInactive)
	}
	return rec, nil
}

// resolve reads subject through the identity cache. A failure other than
// identity.ErrNotFound is retried once after RetryBackoff plus jitter,
// unless ctx has already ended.
func (e *Engine) resolve(ctx context.Context, subject string) (identity.Record, error) {
	rec, err := e.cache.Load(ctx, subject, e.store.FindUserByID)
	if err == nil || errors.Is(err, identity.ErrNotFound) || ctx.Err() != nil {
		return rec, err
	}

	e.metricInc(MetricAuthenticateRetried)
	e.logger.Debug("retrying identity lookup", "subject", subject, "error", err)

	if serr := e.sleep(ctx, e.retryDelay()); serr != nil {
		return identity.Record{}, errors.Join(err, serr)
	}
	return e.cache.Load(ctx, subject, e.store.FindUserByID)
}

func (e *Engine) retryDelay() time.Duration {
	base := e.config.Auth.RetryBackoff
	if base <= 0 {
		return 0
	}
	return base + rand.N(base/2+1)
}

func (e *Engine) identityFor(rec identity.Record) *Identity {
	id := newIdentity(rec)
	if su := e.config.Auth.SuperuserRole; su != "" && rec.Role == su {
		id.Superuser = true
	}
	return id
}
