package internaldefs

import (
	"github.com/irontrack/ironauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   ironauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   ironauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: ironauth.MetricAuthenticateSuccess, Name: "ironauth_authenticate_success_total", Help: "Requests authorized."},
	{ID: ironauth.MetricAuthenticateInvalidToken, Name: "ironauth_authenticate_invalid_token_total", Help: "Requests rejected for a missing, malformed or expired token."},
	{ID: ironauth.MetricAuthenticateUnknownSubject, Name: "ironauth_authenticate_unknown_subject_total", Help: "Requests whose token subject no longer exists."},
	{ID: ironauth.MetricAuthenticateInactive, Name: "ironauth_authenticate_inactive_total", Help: "Requests from deactivated accounts."},
	{ID: ironauth.MetricAuthenticateForbidden, Name: "ironauth_authenticate_forbidden_total", Help: "Requests failing a role requirement."},
	{ID: ironauth.MetricAuthenticateUnavailable, Name: "ironauth_authenticate_unavailable_total", Help: "Requests rejected because identity could not be resolved."},
	{ID: ironauth.MetricAuthenticateRetried, Name: "ironauth_authenticate_retried_total", Help: "Identity lookups retried after a transient error."},
	{ID: ironauth.MetricLoginSuccess, Name: "ironauth_login_success_total", Help: "Successful logins."},
	{ID: ironauth.MetricLoginFailure, Name: "ironauth_login_failure_total", Help: "Failed logins."},
	{ID: ironauth.MetricLoginRateLimited, Name: "ironauth_login_rate_limited_total", Help: "Logins refused by the throttle."},
	{ID: ironauth.MetricRefreshSuccess, Name: "ironauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: ironauth.MetricRefreshFailure, Name: "ironauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: ironauth.MetricRefreshRevoked, Name: "ironauth_refresh_revoked_total", Help: "Refreshes presenting a revoked token."},
	{ID: ironauth.MetricRefreshReuseDetected, Name: "ironauth_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: ironauth.MetricLogout, Name: "ironauth_logout_total", Help: "Single token logouts."},
	{ID: ironauth.MetricLogoutAll, Name: "ironauth_logout_all_total", Help: "Logouts of every token of a subject."},
	{ID: ironauth.MetricAccountCreated, Name: "ironauth_account_created_total", Help: "Registered accounts."},
	{ID: ironauth.MetricAccountCreationDuplicate, Name: "ironauth_account_creation_duplicate_total", Help: "Registrations refused for an existing email."},
	{ID: ironauth.MetricPasswordChangeSuccess, Name: "ironauth_password_change_success_total", Help: "Password changes."},
	{ID: ironauth.MetricPasswordChangeInvalidOld, Name: "ironauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: ironauth.MetricPasswordUpgraded, Name: "ironauth_password_upgraded_total", Help: "Hashes re-encoded with current parameters at login."},
	{ID: ironauth.MetricAccountDisabled, Name: "ironauth_account_disabled_total", Help: "Account deactivations."},
	{ID: ironauth.MetricAccountEnabled, Name: "ironauth_account_enabled_total", Help: "Account reactivations."},
	{ID: ironauth.MetricAccountDeleted, Name: "ironauth_account_deleted_total", Help: "Account deletions."},
	{ID: ironauth.MetricRoleChanged, Name: "ironauth_role_changed_total", Help: "Role assignments and revocations."},
	{ID: ironauth.MetricInvalidationFailure, Name: "ironauth_invalidation_failure_total", Help: "Identity cache invalidations that failed."},
	{ID: ironauth.MetricHashingFailure, Name: "ironauth_hashing_failure_total", Help: "Password hashing requests refused or failed."},
	{ID: ironauth.MetricCacheLocalHit, Name: "ironauth_cache_local_hit_total", Help: "Identity lookups served by the local tier."},
	{ID: ironauth.MetricCacheSharedHit, Name: "ironauth_cache_shared_hit_total", Help: "Identity lookups served by the shared tier."},
	{ID: ironauth.MetricCacheMiss, Name: "ironauth_cache_miss_total", Help: "Identity lookups missing both tiers."},
	{ID: ironauth.MetricCacheLoad, Name: "ironauth_cache_load_total", Help: "Identity loads from storage."},
	{ID: ironauth.MetricCacheInvalidation, Name: "ironauth_cache_invalidation_total", Help: "Identity invalidations applied."},
	{ID: ironauth.MetricCacheDecodeError, Name: "ironauth_cache_decode_error_total", Help: "Shared tier entries that failed to decode."},
	{ID: ironauth.MetricCachePopulateSkipped, Name: "ironauth_cache_populate_skipped_total", Help: "Shared tier writes skipped after a concurrent invalidation."},
	{ID: ironauth.MetricCacheSharedError, Name: "ironauth_cache_shared_error_total", Help: "Shared tier operations that failed."},
	{ID: ironauth.MetricHashPoolCompleted, Name: "ironauth_hash_pool_completed_total", Help: "Argon2 jobs completed by the worker pool."},
	{ID: ironauth.MetricHashPoolRejected, Name: "ironauth_hash_pool_rejected_total", Help: "Argon2 jobs refused by the worker pool."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: ironauth.MetricAuthenticateLatency, Name: "ironauth_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's latency
// buckets.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the engine's bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
