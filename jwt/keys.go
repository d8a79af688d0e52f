package jwt

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// parsePrivateKey accepts a JSON Web Key, a PEM block or a raw 64 byte
// ed25519 private key.
func parsePrivateKey(method SigningMethod, data []byte) (crypto.Signer, error) {
	var raw interface{}
	switch {
	case isJWK(data):
		key, err := jwk.ParseKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse private jwk: %w", err)
		}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("extract private jwk: %w", err)
		}
	case method == MethodEd25519 && len(data) == ed25519.PrivateKeySize:
		raw = ed25519.PrivateKey(data)
	case method == MethodEd25519:
		parsed, err := jwt.ParseEdPrivateKeyFromPEM(data)
		if err != nil {
			return nil, errors.New("invalid ed25519 private key")
		}
		raw = parsed
	default:
		parsed, err := jwt.ParseECPrivateKeyFromPEM(data)
		if err != nil {
			return nil, errors.New("invalid ecdsa private key")
		}
		raw = parsed
	}

	switch key := raw.(type) {
	case ed25519.PrivateKey:
		if method != MethodEd25519 {
			return nil, errors.New("ed25519 key does not match signing method")
		}
		return key, nil
	case *ecdsa.PrivateKey:
		if method != MethodES256 || key.Curve != elliptic.P256() {
			return nil, errors.New("ecdsa key does not match signing method")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", raw)
	}
}

// parsePublicKey accepts the same encodings as parsePrivateKey. A private
// JWK is reduced to its public half.
func parsePublicKey(method SigningMethod, data []byte) (crypto.PublicKey, error) {
	var raw interface{}
	switch {
	case isJWK(data):
		key, err := jwk.ParseKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse public jwk: %w", err)
		}
		pub, err := jwk.PublicKeyOf(key)
		if err != nil {
			return nil, fmt.Errorf("derive public jwk: %w", err)
		}
		if err := pub.Raw(&raw); err != nil {
			return nil, fmt.Errorf("extract public jwk: %w", err)
		}
	case method == MethodEd25519 && len(data) == ed25519.PublicKeySize:
		raw = ed25519.PublicKey(data)
	case method == MethodEd25519:
		parsed, err := jwt.ParseEdPublicKeyFromPEM(data)
		if err != nil {
			return nil, errors.New("invalid ed25519 public key")
		}
		raw = parsed
	default:
		parsed, err := jwt.ParseECPublicKeyFromPEM(data)
		if err != nil {
			return nil, errors.New("invalid ecdsa public key")
		}
		raw = parsed
	}

	switch key := raw.(type) {
	case ed25519.PublicKey:
		if method != MethodEd25519 {
			return nil, errors.New("ed25519 key does not match signing method")
		}
		return key, nil
	case *ecdsa.PublicKey:
		if method != MethodES256 || key.Curve != elliptic.P256() {
			return nil, errors.New("ecdsa key does not match signing method")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", raw)
	}
}

func isJWK(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// PublicJWKS renders the verification keys as a JSON Web Key Set suitable
// for serving at /.well-known/jwks.json.
func (m *Manager) PublicJWKS() ([]byte, error) {
	alg := jwa.EdDSA
	if m.config.SigningMethod == MethodES256 {
		alg = jwa.ES256
	}

	set := jwk.NewSet()
	add := func(kid string, pub crypto.PublicKey) error {
		key, err := jwk.FromRaw(pub)
		if err != nil {
			return fmt.Errorf("build jwk: %w", err)
		}
		if kid != "" {
			if err := key.Set(jwk.KeyIDKey, kid); err != nil {
				return err
			}
		}
		if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
			return err
		}
		if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return err
		}
		return set.AddKey(key)
	}

	if len(m.verifyKeys) > 0 {
		for kid, pub := range m.verifyKeys {
			if err := add(kid, pub); err != nil {
				return nil, err
			}
		}
	} else if m.verifyKey != nil {
		if err := add(m.config.KeyID, m.verifyKey); err != nil {
			return nil, err
		}
	}

	return json.Marshal(set)
}

// GenerateEd25519JWK creates a fresh private key encoded as a JWK. It is
// used to bootstrap development environments.
func GenerateEd25519JWK(kid string) ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	key, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
	}
	return json.Marshal(key)
}
