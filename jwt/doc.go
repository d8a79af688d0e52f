// Package jwt issues and verifies the signed access and refresh tokens used
// by ironauth.
//
// Tokens are compact JWTs signed with Ed25519 (default) or ECDSA P-256. Every
// token carries sub, iat, exp, a unique jti and a typ discriminator; a token
// missing any of them is rejected. Key material is parsed once by
// [NewManager] from JWK, PEM or raw bytes and is read-only afterwards.
package jwt
