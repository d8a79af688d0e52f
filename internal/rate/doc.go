// Package rate provides Redis-backed fixed-window counters that throttle
// failed logins (per email and per IP) and refreshes (per subject).
//
// # Window semantics
//
// INCR and EXPIRE NX run in one MULTI; the first hit of a window sets its
// expiry. Key layout under the configured prefix:
//   - <prefix>:login:<email>
//   - <prefix>:login_ip:<ip>
//   - <prefix>:refresh:<subject>
package rate
