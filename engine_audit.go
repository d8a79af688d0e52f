package ironauth

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshRateLimited    = "refresh_rate_limited"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventAccountCreated        = "account_created"
	auditEventAccountCreateFailure  = "account_creation_failure"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventAccountStatusChange   = "account_status_change"
	auditEventRoleChange            = "role_change"
	auditEventProfileUpdate         = "profile_update"
	auditEventAccountDeleted        = "account_deleted"
	auditEventCriticalActionDenied  = "critical_action_denied"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventType: eventType,
		UserID:    userID,
		TokenID:   tokenID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if actor, ok := IdentityFromContext(ctx); ok {
		event.ActorID = actor.Subject
	}
	if err != nil {
		event.Reason = auditReason(err)
	}

	e.audit.Emit(ctx, event)
}

// auditReason is the public reason code, refined for failures that share a
// code on the wire but matter separately in the audit trail.
func auditReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCriticalAction):
		return "critical_action"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrCacheUnavailable), errors.Is(err, ErrInvalidationFailed):
		return "cache_unavailable"
	}
	return ReasonOf(err).String()
}
