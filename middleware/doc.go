// Package middleware is the HTTP boundary of the authentication engine.
//
// A [Transport] reads the access_token and refresh_token cookies, calls the
// engine and renders failures as {"code": "<reason>"} with the status the
// engine's Reason maps to (401, 403, 429 or 503). No other failure detail
// reaches the client.
//
// # Guards
//
//   - [Transport.Guard] wraps a net/http handler.
//   - [Transport.EchoGuard] is the echo/v4 equivalent.
//
// Both store the authorized identity in the request context, where
// [ironauth.IdentityFromContext] finds it.
//
// # Handlers
//
// [Transport.LoginHandler], [Transport.RefreshHandler] and
// [Transport.LogoutHandler] set and clear the cookies. The access cookie is
// SameSite=Lax and the refresh cookie SameSite=Strict; both are HttpOnly.
//
// This package does not parse tokens or touch Redis; every decision is
// the engine's.
package middleware
