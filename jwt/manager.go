package jwt

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the asymmetric algorithm used to sign tokens.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519. It is the default.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodES256 signs with ECDSA over P-256.
	MethodES256 SigningMethod = "es256"
)

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Config defines the key material and validation rules of a [Manager].
//
// PrivateKey and PublicKey accept a JSON Web Key, PEM, or raw ed25519 bytes.
// When PublicKey is empty it is derived from PrivateKey. VerifyKeys maps key
// ids to public keys and enables kid-based verification during rotation.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	Now           func() time.Time
}

// Claims is the fixed claim set carried by every token.
type Claims struct {
	Type  TokenType `json:"typ"`
	Email string    `json:"email,omitempty"`
	// Generation is the subject's revocation generation when a refresh
	// token was issued. A later revoke-all raises the generation and
	// retires the token.
	Generation uint64 `json:"gen,omitempty"`
	jwt.RegisteredClaims
}

// Token is a signed token together with the claims it carries.
type Token struct {
	Raw    string
	Claims Claims
}

// IssueOption customizes a single issuance.
type IssueOption func(*Claims)

// WithEmail embeds the subject's email. Only access tokens carry it.
func WithEmail(email string) IssueOption {
	return func(c *Claims) {
		c.Email = email
	}
}

// WithGeneration stamps a refresh token with the subject's revocation
// generation.
func WithGeneration(gen uint64) IssueOption {
	return func(c *Claims) {
		c.Generation = gen
	}
}

// Manager signs and verifies tokens. Keys are parsed once in [NewManager]
// and never mutated, so a Manager is safe for concurrent use.
type Manager struct {
	config     Config
	method     jwt.SigningMethod
	signKey    crypto.Signer
	verifyKey  crypto.PublicKey
	verifyKeys map[string]crypto.PublicKey
	now        func() time.Time
	parser     *jwt.Parser
}

// NewManager validates cfg and loads its key material.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodEd25519
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: cfg.Now}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
	case MethodES256:
		m.method = jwt.SigningMethodES256
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.PrivateKey) > 0 {
		signer, err := parsePrivateKey(cfg.SigningMethod, cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		m.signKey = signer
	}

	switch {
	case len(cfg.PublicKey) > 0:
		pub, err := parsePublicKey(cfg.SigningMethod, cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.verifyKey = pub
	case m.signKey != nil:
		m.verifyKey = m.signKey.Public()
	}

	if len(cfg.VerifyKeys) > 0 {
		m.verifyKeys = make(map[string]crypto.PublicKey, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			pub, err := parsePublicKey(cfg.SigningMethod, raw)
			if err != nil {
				return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
			}
			m.verifyKeys[kid] = pub
		}
		if cfg.KeyID != "" {
			if _, ok := m.verifyKeys[cfg.KeyID]; !ok {
				return nil, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	}

	if m.verifyKey == nil && len(m.verifyKeys) == 0 {
		return nil, errors.New("public key or verify key set required")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(options...)

	return m, nil
}

// CanSign reports whether the manager was configured with a private key.
func (m *Manager) CanSign() bool {
	return m != nil && m.signKey != nil
}

// Issue signs a new token for subject. The token gets a fresh UUIDv7 id,
// iat set to now and exp set to now+ttl.
func (m *Manager) Issue(subject string, typ TokenType, ttl time.Duration, opts ...IssueOption) (Token, error) {
	if m.signKey == nil {
		return Token{}, ErrNoSigningKey
	}
	if subject == "" {
		return Token{}, errors.New("empty subject")
	}
	if typ != TypeAccess && typ != TypeRefresh {
		return Token{}, fmt.Errorf("unknown token type %q", typ)
	}
	if ttl <= 0 {
		return Token{}, errors.New("invalid TTL configuration")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Token{}, fmt.Errorf("generate token id: %w", err)
	}

	now := m.now()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Subject:   subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	for _, opt := range opts {
		opt(&claims)
	}
	if typ == TypeRefresh {
		claims.Email = ""
	} else {
		claims.Generation = 0
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	raw, err := token.SignedString(m.signKey)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{Raw: raw, Claims: claims}, nil
}

// Verify checks the signature and mandatory claims of tokenStr.
//
// Failures wrap exactly one of [ErrInvalidSignature], [ErrExpired] or
// [ErrMalformedClaims].
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", ErrMalformedClaims)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformedClaims)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrMalformedClaims)
	}
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return nil, fmt.Errorf("%w: missing or unknown typ", ErrMalformedClaims)
	}
	// iat is checked here rather than by the parser so MaxFutureIAT, not
	// Leeway, bounds clock skew between issuers.
	if claims.IssuedAt.Time.After(m.now().Add(m.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformedClaims)
	}

	return claims, nil
}

// VerifyAs verifies tokenStr and additionally requires the given type.
func (m *Manager) VerifyAs(tokenStr string, typ TokenType) (*Claims, error) {
	claims, err := m.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(m.verifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}

	return m.verifyKey, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedClaims, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformedClaims, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedClaims, err)
	}
}
