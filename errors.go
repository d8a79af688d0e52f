package ironauth

import (
	"errors"
	"net/http"
)

// Reason classifies why a request was not authorized. It is the only
// failure detail that crosses the transport boundary.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInvalidToken
	ReasonUnknownSubject
	ReasonAccountInactive
	ReasonForbidden
	ReasonRevokedToken
	ReasonHashingFailure
	ReasonUnavailable
	ReasonInvalidCredentials
	ReasonRateLimited
	ReasonConflict
	ReasonBadRequest
)

var reasonCodes = [...]string{
	ReasonNone:               "",
	ReasonInvalidToken:       "invalid_token",
	ReasonUnknownSubject:     "unknown_subject",
	ReasonAccountInactive:    "account_inactive",
	ReasonForbidden:          "forbidden",
	ReasonRevokedToken:       "revoked_token",
	ReasonHashingFailure:     "hashing_failure",
	ReasonUnavailable:        "unavailable",
	ReasonInvalidCredentials: "invalid_credentials",
	ReasonRateLimited:        "rate_limited",
	ReasonConflict:           "conflict",
	ReasonBadRequest:         "bad_request",
}

// String returns the stable wire code, e.g. "account_inactive".
func (r Reason) String() string {
	if int(r) < len(reasonCodes) {
		return reasonCodes[r]
	}
	return "unknown"
}

// HTTPStatus maps r to a response status: 401 for token and identity
// problems, 403 for policy, 503 when the backend cannot decide.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonInvalidToken, ReasonUnknownSubject, ReasonAccountInactive,
		ReasonRevokedToken, ReasonInvalidCredentials:
		return http.StatusUnauthorized
	case ReasonForbidden:
		return http.StatusForbidden
	case ReasonHashingFailure, ReasonUnavailable:
		return http.StatusServiceUnavailable
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonConflict:
		return http.StatusConflict
	case ReasonBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var (
	// ErrInvalidToken: missing, malformed, badly signed, expired or wrongly
	// typed token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownSubject: the token subject does not exist in storage.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrAccountInactive: the account exists but is deactivated.
	ErrAccountInactive = errors.New("account inactive")
	// ErrForbidden: the identity lacks a required role.
	ErrForbidden = errors.New("forbidden")
	// ErrRevokedToken: the refresh token was revoked or already used.
	ErrRevokedToken = errors.New("token revoked")
	// ErrHashingFailure: the hashing pool could not run the job.
	ErrHashingFailure = errors.New("credential hashing unavailable")
	// ErrUnavailable: identity or revocation state could not be read, even
	// after a retry.
	ErrUnavailable = errors.New("authentication backend unavailable")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginRateLimited   = errors.New("login rate limited")
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	ErrAccountExists      = errors.New("account already exists")
	ErrPasswordPolicy     = errors.New("password policy violation")
	ErrPasswordReuse      = errors.New("new password must be different from current password")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidRole        = errors.New("invalid role")

	// ErrCacheUnavailable: a mutation was refused because its cache entry
	// could not be invalidated first. Storage was not touched.
	ErrCacheUnavailable = errors.New("identity cache unavailable; mutation not applied")
	// ErrInvalidationFailed: storage was updated but the follow-up
	// invalidation failed.
	ErrInvalidationFailed = errors.New("identity cache invalidation failed")
	// ErrCriticalAction: the mutation targets the system administrator or
	// the actor's own account.
	ErrCriticalAction = errors.New("critical action forbidden")

	ErrEngineNotReady = errors.New("engine not initialized")
)

// Rejection carries the reason and the stage at which authentication
// stopped. The wrapped cause is kept for logs and never rendered.
type Rejection struct {
	Reason Reason
	Stage  Stage
	cause  error
}

func (r *Rejection) Error() string {
	return "rejected at " + r.Stage.String() + ": " + r.Reason.String()
}

func (r *Rejection) Unwrap() error {
	return r.cause
}

func reject(stage Stage, reason Reason, cause error) *Rejection {
	return &Rejection{Reason: reason, Stage: stage, cause: cause}
}

// ReasonOf classifies any error returned by the engine. nil yields
// ReasonNone; errors the engine does not recognise yield
// ReasonUnavailable so that an unexpected failure is never reported as an
// identity problem.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}

	switch {
	case errors.Is(err, ErrInvalidToken):
		return ReasonInvalidToken
	case errors.Is(err, ErrUnknownSubject):
		return ReasonUnknownSubject
	case errors.Is(err, ErrAccountInactive):
		return ReasonAccountInactive
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrCriticalAction):
		return ReasonForbidden
	case errors.Is(err, ErrRevokedToken):
		return ReasonRevokedToken
	case errors.Is(err, ErrHashingFailure):
		return ReasonHashingFailure
	case errors.Is(err, ErrInvalidCredentials):
		return ReasonInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRefreshRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrAccountExists):
		return ReasonConflict
	case errors.Is(err, ErrPasswordPolicy), errors.Is(err, ErrPasswordReuse),
		errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidRole):
		return ReasonBadRequest
	default:
		return ReasonUnavailable
	}
}
