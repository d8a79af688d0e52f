// Package revocation stores revoked token ids in Redis.
//
// Refresh tokens are revoked individually on logout and consumed with SET NX
// on rotation, so a replayed refresh token is rejected. A per-subject
// generation counter backs "log out everywhere", password changes and
// deactivation: refresh tokens carry the generation they were issued under
// and are revoked once it advances. The ordering is exact, so a token
// issued in the same second as a revoke-all survives it.
//
// Entries live at least as long as the refresh token lifetime. Any Redis
// failure is reported as [ErrRedisUnavailable] and must be treated as
// revoked by callers.
package revocation
