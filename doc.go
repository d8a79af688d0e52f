// Package ironauth is the authentication core of the IronTrack backend: it
// verifies signed access tokens, resolves their subject through a two-tier
// identity cache, applies account and role policy, and issues rotating
// refresh tokens checked against a Redis revocation ledger.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Authentication
//
// [Engine.Authenticate] walks a fixed sequence of stages:
//
//	TokenPresent -> TokenVerified -> IdentityResolved -> PolicyChecked -> Authorized
//
// and stops at the first failing stage with a *[Rejection]. [ReasonOf]
// turns any engine error into a [Reason] whose [Reason.HTTPStatus] is what
// the transport layer sends: 401 for token and identity problems, 403 for
// policy, 503 when the backend could not decide. Storage and Redis failures
// are retried once and then reported as unavailable, never as an unknown
// subject.
//
// # Mutations
//
// Every change to a stored account goes through [Engine.MutateIdentity],
// which invalidates the cached record before and after the write. If the
// cache cannot be reached beforehand the write is refused.
//
// # Boundaries
//
//   - Storage is a collaborator behind [UserStore]; see store/postgres.
//   - HTTP cookies and status codes live in middleware.
//   - Redis clients, cache encoding and counters stay in sub-packages.
package ironauth
