package ironauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/irontrack/ironauth/identity"
	"github.com/irontrack/ironauth/password"
)

// MutateIdentity runs fn, which must change the stored record of subject,
// between two cache invalidations.
//
// The first invalidation is a precondition: if it fails, fn is not run and
// ErrCacheUnavailable is returned. If the second fails, the write has
// already happened and the error wraps ErrInvalidationFailed. The first
// invalidation has advanced the subject's generation, so a load that read
// the old record cannot repopulate the shared tier with it.
func (e *Engine) MutateIdentity(ctx context.Context, subject string, fn func(ctx context.Context) error) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.cache.Invalidate(ctx, subject); err != nil {
		e.metricInc(MetricInvalidationFailure)
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	if err := e.cache.Invalidate(ctx, subject); err != nil {
		e.metricInc(MetricInvalidationFailure)
		e.logger.Error("cache invalidation after write failed", "subject", subject, "error", err)
		return errors.Join(ErrInvalidationFailed, err)
	}
	return nil
}

// ChangePassword replaces the password of subject after checking the
// current one, then revokes all of the subject's refresh tokens.
func (e *Engine) ChangePassword(ctx context.Context, subject, current, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	err := e.changePassword(ctx, subject, current, next)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.metricInc(MetricPasswordChangeInvalidOld)
		}
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, subject, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, subject, "", nil, nil)
	return nil
}

func (e *Engine) changePassword(ctx context.Context, subject, current, next string) error {
	rec, err := e.loadTarget(ctx, subject)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(ctx, current, rec.PasswordHash)
	if err != nil {
		return e.hashingError(ctx, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if current == next {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(ctx, next)
	if err != nil {
		if errors.Is(err, password.ErrPasswordLength) {
			return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return e.hashingError(ctx, err)
	}

	err = e.MutateIdentity(ctx, subject, func(ctx context.Context) error {
		return e.storeErr(e.store.UpdatePasswordHash(ctx, subject, hash))
	})
	if err != nil {
		return err
	}

	return e.revokeAll(ctx, subject)
}

// SetActive enables or disables an account. Disabling also revokes every
// refresh token of the account; its access tokens are rejected as
// AccountInactive from the next request on.
func (e *Engine) SetActive(ctx context.Context, subject string, active bool) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.loadTarget(ctx, subject)
	if err != nil {
		return err
	}
	if err := e.guardCritical(ctx, rec, true); err != nil {
		return err
	}

	err = e.MutateIdentity(ctx, subject, func(ctx context.Context) error {
		return e.storeErr(e.store.SetActive(ctx, subject, active))
	})
	if err == nil && !active {
		err = e.revokeAll(ctx, subject)
	}

	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, subject, "", err, func() map[string]string {
		return map[string]string{"active": fmt.Sprint(active)}
	})
	if err != nil {
		return err
	}

	if active {
		e.metricInc(MetricAccountEnabled)
	} else {
		e.metricInc(MetricAccountDisabled)
	}
	return nil
}

// AssignRole sets the role of subject.
func (e *Engine) AssignRole(ctx context.Context, subject, role string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return ErrInvalidRole
	}
	return e.setRole(ctx, subject, role)
}

// RevokeRole returns subject to the default role.
func (e *Engine) RevokeRole(ctx context.Context, subject string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.setRole(ctx, subject, e.config.Auth.DefaultRole)
}

func (e *Engine) setRole(ctx context.Context, subject, role string) error {
	rec, err := e.loadTarget(ctx, subject)
	if err != nil {
		return err
	}
	if err := e.guardCritical(ctx, rec, true); err != nil {
		return err
	}

	err = e.MutateIdentity(ctx, subject, func(ctx context.Context) error {
		return e.storeErr(e.store.SetRole(ctx, subject, role))
	})
	e.emitAudit(ctx, auditEventRoleChange, err == nil, subject, "", err, func() map[string]string {
		return map[string]string{"from": rec.Role, "to": role}
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricRoleChanged)
	return nil
}

// UpdateProfile changes the display name and email of subject. Users may
// update their own profile; the system administrator's cannot be changed.
func (e *Engine) UpdateProfile(ctx context.Context, subject, name, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		return ErrInvalidEmail
	}

	rec, err := e.loadTarget(ctx, subject)
	if err != nil {
		return err
	}
	if err := e.guardCritical(ctx, rec, false); err != nil {
		return err
	}

	err = e.MutateIdentity(ctx, subject, func(ctx context.Context) error {
		return e.storeErr(e.store.UpdateProfile(ctx, subject, strings.TrimSpace(name), email))
	})
	e.emitAudit(ctx, auditEventProfileUpdate, err == nil, subject, "", err, nil)
	return err
}

// DeleteUser removes subject and revokes its refresh tokens. Outstanding
// access tokens are rejected as UnknownSubject.
func (e *Engine) DeleteUser(ctx context.Context, subject string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.loadTarget(ctx, subject)
	if err != nil {
		return err
	}
	if err := e.guardCritical(ctx, rec, true); err != nil {
		return err
	}

	err = e.MutateIdentity(ctx, subject, func(ctx context.Context) error {
		return e.storeErr(e.store.DeleteUser(ctx, subject))
	})
	if err == nil {
		err = e.revokeAll(ctx, subject)
	}
	e.emitAudit(ctx, auditEventAccountDeleted, err == nil, subject, "", err, nil)
	if err != nil {
		return err
	}

	e.metricInc(MetricAccountDeleted)
	return nil
}

// User returns the account with the given id, active or not. It reads
// through the identity cache.
func (e *Engine) User(ctx context.Context, subject string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	rec, err := e.resolve(ctx, subject)
	if err != nil {
		return nil, e.storeErr(err)
	}
	return e.identityFor(rec), nil
}

// loadTarget reads the current record from storage, bypassing the cache.
func (e *Engine) loadTarget(ctx context.Context, subject string) (identity.Record, error) {
	rec, err := e.store.FindUserByID(ctx, subject)
	if err != nil {
		return identity.Record{}, e.storeErr(err)
	}
	return rec, nil
}

// guardCritical refuses mutations of the system administrator account and,
// when selfForbidden is set, mutations an actor applies to their own
// account.
func (e *Engine) guardCritical(ctx context.Context, target identity.Record, selfForbidden bool) error {
	admin := e.config.Auth.SystemAdminEmail
	if admin != "" && strings.EqualFold(target.Email, admin) {
		e.emitAudit(ctx, auditEventCriticalActionDenied, false, target.ID, "", ErrCriticalAction, nil)
		return ErrCriticalAction
	}
	if !selfForbidden {
		return nil
	}
	if actor, ok := IdentityFromContext(ctx); ok && actor.Subject == target.ID {
		e.emitAudit(ctx, auditEventCriticalActionDenied, false, target.ID, "", ErrCriticalAction, nil)
		return ErrCriticalAction
	}
	return nil
}

func (e *Engine) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrNotFound):
		return errors.Join(ErrUnknownSubject, err)
	case errors.Is(err, identity.ErrDuplicateEmail):
		return errors.Join(ErrAccountExists, err)
	case errors.Is(err, identity.ErrUnknownRole):
		return errors.Join(ErrInvalidRole, err)
	default:
		return errors.Join(ErrUnavailable, err)
	}
}
