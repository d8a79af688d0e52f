package ironauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irontrack/ironauth/identity"
	"github.com/irontrack/ironauth/internal/rate"
	"github.com/irontrack/ironauth/jwt"
	"github.com/irontrack/ironauth/password"
	"github.com/irontrack/ironauth/revocation"
)

// Login checks email and password and issues a token pair.
//
// An unknown email, a wrong password and a deactivated account all return
// [ErrInvalidCredentials]. A saturated hashing pool returns
// [ErrHashingFailure]; a throttled email or IP returns
// [ErrLoginRateLimited].
func (e *Engine) Login(ctx context.Context, email, pass string) (TokenPair, *Identity, error) {
	if e == nil {
		return TokenPair{}, nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	ip := ClientIPFromContext(ctx)

	if e.config.Security.EnableLoginThrottle {
		if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
				return TokenPair{}, nil, ErrLoginRateLimited
			}
			return TokenPair{}, nil, errors.Join(ErrUnavailable, err)
		}
	}

	rec, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			return TokenPair{}, nil, errors.Join(ErrUnavailable, err)
		}
		// Same hashing cost as a wrong password.
		if _, verr := e.hasher.Verify(ctx, pass, e.decoyHash); verr != nil {
			return TokenPair{}, nil, e.hashingError(ctx, verr)
		}
		e.loginFailed(ctx, email, ip, "")
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(ctx, pass, rec.PasswordHash)
	if err != nil {
		return TokenPair{}, nil, e.hashingError(ctx, err)
	}
	if !ok || !rec.Active {
		e.loginFailed(ctx, email, ip, rec.ID)
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	if e.config.Security.EnableLoginThrottle {
		if err := e.limiter.ResetLogin(ctx, email); err != nil {
			e.logger.Warn("login counter not reset", "error", err)
		}
	}

	if e.config.Password.UpgradeOnLogin && e.hasher.NeedsUpgrade(rec.PasswordHash) {
		e.upgradeHash(ctx, rec.ID, pass)
	}

	gen, err := e.ledger.Generation(ctx, rec.ID)
	if err != nil {
		return TokenPair{}, nil, errors.Join(ErrUnavailable, err)
	}
	pair, err := e.issuePair(rec, gen)
	if err != nil {
		return TokenPair{}, nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, rec.ID, "", nil, nil)

	return pair, e.identityFor(rec), nil
}

func (e *Engine) loginFailed(ctx context.Context, email, ip, userID string) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, nil)

	if !e.config.Security.EnableLoginThrottle {
		return
	}
	if err := e.limiter.IncrementLogin(ctx, email, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("login failure not counted", "error", err)
	}
}

// upgradeHash rehashes pass with the current parameters. Failures are
// logged; the login has already succeeded.
func (e *Engine) upgradeHash(ctx context.Context, subject, pass string) {
	hash, err := e.hasher.Hash(ctx, pass)
	if err != nil {
		e.logger.Warn("password hash upgrade skipped", "subject", subject, "error", err)
		return
	}
	err = e.MutateIdentity(ctx, subject, func(ctx context.Context) error {
		return e.store.UpdatePasswordHash(ctx, subject, hash)
	})
	if err != nil {
		e.logger.Warn("password hash upgrade failed", "subject", subject, "error", err)
		return
	}
	e.metricInc(MetricPasswordUpgraded)
}

// Register creates an active account with the default role.
func (e *Engine) Register(ctx context.Context, email, pass, name string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}

	hash, err := e.hasher.Hash(ctx, pass)
	if err != nil {
		if errors.Is(err, password.ErrPasswordLength) {
			return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return nil, e.hashingError(ctx, err)
	}

	rec, err := e.store.CreateUser(ctx, identity.Record{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         e.config.Auth.DefaultRole,
		Active:       true,
		JoinedAt:     e.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			e.metricInc(MetricAccountCreationDuplicate)
			e.emitAudit(ctx, auditEventAccountCreateFailure, false, "", "", ErrAccountExists, nil)
			return nil, ErrAccountExists
		}
		return nil, errors.Join(ErrUnavailable, err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreated, true, rec.ID, "", nil, nil)

	return e.identityFor(rec), nil
}

// Refresh exchanges a refresh token for a new pair.
//
// The token is rejected as RevokedToken when its id was revoked or
// consumed, or when the subject was revoked after it was issued. With rotation enabled the presented token is consumed, so of
// two concurrent refreshes with the same token exactly one succeeds.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Identity, error) {
	if e == nil {
		return TokenPair{}, nil, ErrEngineNotReady
	}

	pair, id, err := e.refresh(ctx, refreshToken)
	if err != nil {
		switch ReasonOf(err) {
		case ReasonRevokedToken:
			e.metricInc(MetricRefreshRevoked)
		case ReasonRateLimited:
		default:
			e.metricInc(MetricRefreshFailure)
		}
		return TokenPair{}, nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, id.Subject, id.TokenID, nil, nil)
	return pair, id, nil
}

func (e *Engine) refresh(ctx context.Context, refreshToken string) (TokenPair, *Identity, error) {
	if refreshToken == "" {
		return TokenPair{}, nil, reject(StageTokenPresent, ReasonInvalidToken, ErrInvalidToken)
	}

	claims, err := e.tokens.VerifyAs(refreshToken, jwt.TypeRefresh)
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidToken, nil)
		return TokenPair{}, nil, reject(StageTokenPresent, ReasonInvalidToken, errors.Join(ErrInvalidToken, err))
	}

	if err := e.limiter.CheckRefresh(ctx, claims.Subject); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, claims.Subject, claims.ID, ErrRefreshRateLimited, nil)
			return TokenPair{}, nil, ErrRefreshRateLimited
		}
		return TokenPair{}, nil, reject(StageTokenVerified, ReasonUnavailable, errors.Join(ErrUnavailable, err))
	}

	revoked, gen, err := e.ledger.Check(ctx, claims.ID, claims.Subject, claims.Generation)
	if err != nil {
		return TokenPair{}, nil, reject(StageTokenVerified, ReasonUnavailable, errors.Join(ErrUnavailable, err))
	}
	if revoked {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, claims.ID, ErrRevokedToken, nil)
		return TokenPair{}, nil, reject(StageTokenVerified, ReasonRevokedToken, ErrRevokedToken)
	}

	rec, rej := e.resolveSubject(ctx, claims.Subject)
	if rej != nil {
		return TokenPair{}, nil, rej
	}

	if e.config.Auth.RotateRefreshTokens {
		err := e.ledger.Consume(ctx, claims.ID, e.remaining(claims))
		switch {
		case errors.Is(err, revocation.ErrAlreadyConsumed):
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, claims.Subject, claims.ID, ErrRevokedToken, nil)
			return TokenPair{}, nil, reject(StageIdentityResolved, ReasonRevokedToken, ErrRevokedToken)
		case err != nil:
			return TokenPair{}, nil, reject(StageIdentityResolved, ReasonUnavailable, errors.Join(ErrUnavailable, err))
		}
	}

	pair, err := e.issuePair(rec, gen)
	if err != nil {
		return TokenPair{}, nil, err
	}

	id := e.identityFor(rec)
	id.TokenID = claims.ID
	return pair, id, nil
}

// Logout revokes refreshToken and drops the subject's cached record.
// Access tokens already issued stay valid until they expire.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.VerifyAs(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return reject(StageTokenPresent, ReasonInvalidToken, errors.Join(ErrInvalidToken, err))
	}

	if err := e.ledger.Revoke(ctx, claims.ID, e.remaining(claims)); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	if err := e.cache.Invalidate(ctx, claims.Subject); err != nil {
		e.logger.Warn("cache invalidation after logout failed", "subject", claims.Subject, "error", err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.ID, nil, nil)
	return nil
}

// LogoutAll revokes every refresh token issued to subject so far. Tokens
// issued after it returns are unaffected.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.revokeAll(ctx, subject); err != nil {
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, subject, "", nil, nil)
	return nil
}

func (e *Engine) revokeAll(ctx context.Context, subject string) error {
	if _, err := e.ledger.RevokeAll(ctx, subject); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	if err := e.cache.Invalidate(ctx, subject); err != nil {
		e.logger.Warn("cache invalidation after revoke-all failed", "subject", subject, "error", err)
	}
	return nil
}

// issuePair signs a new pair. gen must be read from the ledger before
// signing; a revoke-all racing the issue then retires the new refresh
// token too.
func (e *Engine) issuePair(rec identity.Record, gen uint64) (TokenPair, error) {
	access, err := e.tokens.Issue(rec.ID, jwt.TypeAccess, e.config.JWT.AccessTTL, jwt.WithEmail(rec.Email))
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := e.tokens.Issue(rec.ID, jwt.TypeRefresh, e.config.JWT.RefreshTTL, jwt.WithGeneration(gen))
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		AccessExpiresAt:  access.Claims.ExpiresAt.Time,
		RefreshExpiresAt: refresh.Claims.ExpiresAt.Time,
	}, nil
}

// remaining is the lifetime left on a token. The ledger raises it to the
// refresh TTL.
func (e *Engine) remaining(claims *jwt.Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return e.config.JWT.RefreshTTL
	}
	return claims.ExpiresAt.Time.Sub(e.now())
}

// hashingError classifies a pool failure. A caller that gave up is not a
// resource problem.
func (e *Engine) hashingError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ErrUnavailable, err)
	}
	e.metricInc(MetricHashingFailure)
	e.logger.Warn("hashing pool refused job", "error", err)
	return fmt.Errorf("%w: %v", ErrHashingFailure, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
