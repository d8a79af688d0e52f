package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, clock *fakeClock) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, _ := newTestManager(t, clock)

	for _, typ := range []TokenType{TypeAccess, TypeRefresh} {
		tok, err := m.Issue("0190f5d6-7c1a-7000-8000-000000000001", typ, 30*time.Minute, WithEmail("u@example.com"))
		if err != nil {
			t.Fatalf("issue %s: %v", typ, err)
		}
		claims, err := m.Verify(tok.Raw)
		if err != nil {
			t.Fatalf("verify %s: %v", typ, err)
		}
		if claims.Subject != "0190f5d6-7c1a-7000-8000-000000000001" {
			t.Fatalf("subject mismatch: %q", claims.Subject)
		}
		if claims.Type != typ {
			t.Fatalf("type mismatch: got %q want %q", claims.Type, typ)
		}
		if claims.ID == "" || claims.ID != tok.Claims.ID {
			t.Fatalf("expected token id to round-trip, got %q", claims.ID)
		}
		if typ == TypeRefresh && claims.Email != "" {
			t.Fatal("refresh token must not carry email")
		}
		if typ == TypeAccess && claims.Email != "u@example.com" {
			t.Fatalf("access token email mismatch: %q", claims.Email)
		}
	}
}

func TestIssueGeneratesUniqueIDs(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, _ := newTestManager(t, clock)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := m.Issue("u1", TypeRefresh, time.Hour)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if _, dup := seen[tok.Claims.ID]; dup {
			t.Fatalf("duplicate token id %s", tok.Claims.ID)
		}
		seen[tok.Claims.ID] = struct{}{}
	}
}

func TestVerifyAfterExpiryIsExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, _ := newTestManager(t, clock)

	tok, err := m.Issue("u1", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.now = clock.now.Add(time.Minute + 2*time.Second)
	_, err = m.Verify(tok.Raw)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	clock.now = clock.now.Add(24 * time.Hour)
	if _, err := m.Verify(tok.Raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired long after expiry, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, _ := newTestManager(t, clock)

	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "j1",
		Subject:   "u1",
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, _ := newTestManager(t, clock)
	other, _ := newTestManager(t, clock)

	tok, err := other.Issue("u1", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok.Raw); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyMissingMandatoryClaims(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, priv := newTestManager(t, clock)

	cases := map[string]Claims{
		"missing iat": {Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			ID: "j1", Subject: "u1", ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
		}},
		"missing exp": {Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			ID: "j1", Subject: "u1", IssuedAt: gjwt.NewNumericDate(clock.now),
		}},
		"missing jti": {Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Subject: "u1", IssuedAt: gjwt.NewNumericDate(clock.now), ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
		}},
		"missing typ": {RegisteredClaims: gjwt.RegisteredClaims{
			ID: "j1", Subject: "u1", IssuedAt: gjwt.NewNumericDate(clock.now), ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
		}},
		"future iat": {Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			ID: "j1", Subject: "u1", IssuedAt: gjwt.NewNumericDate(clock.now.Add(time.Hour)), ExpiresAt: gjwt.NewNumericDate(clock.now.Add(2 * time.Hour)),
		}},
	}

	for name, claims := range cases {
		token, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := m.Verify(token); !errors.Is(err, ErrMalformedClaims) {
			t.Fatalf("%s: expected ErrMalformedClaims, got %v", name, err)
		}
	}

	if _, err := m.Verify("not.a.jwt"); !errors.Is(err, ErrMalformedClaims) {
		t.Fatalf("expected garbage to be malformed, got %v", err)
	}
}

func TestVerifyAsRejectsOtherType(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, _ := newTestManager(t, clock)

	access, err := m.Issue("u1", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.VerifyAs(access.Raw, TypeRefresh); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
	if _, err := m.VerifyAs(access.Raw, TypeAccess); err != nil {
		t.Fatalf("expected access token to verify as access: %v", err)
	}
}

func TestVerifyIssuerAudienceAndLeeway(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "irontrack",
		Audience:      "api",
		Leeway:        30 * time.Second,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, err := m.Issue("u1", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok.Raw); err != nil {
		t.Fatalf("expected valid token to verify: %v", err)
	}

	clock.now = clock.now.Add(time.Minute + 15*time.Second)
	if _, err := m.Verify(tok.Raw); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	wrongIssuer := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "j1",
		Subject:   "u1",
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"api"},
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	bad, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongIssuer).SignedString(priv)
	if _, err := m.Verify(bad); !errors.Is(err, ErrMalformedClaims) {
		t.Fatalf("expected wrong issuer to be malformed, got %v", err)
	}
}

func TestVerifyUnknownKidFails(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	pub1, priv1 := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "j1",
		Subject:   "u1",
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, _ := tok.SignedString(priv1)
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected unknown kid failure, got %v", err)
	}

	good, err := m.Issue("u1", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(good.Raw); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}
}

func TestNewManagerRejectsUnsupportedMethod(t *testing.T) {
	_, priv := newEdKeys(t)
	if _, err := NewManager(Config{SigningMethod: "hs256", PrivateKey: priv}); err == nil {
		t.Fatal("expected symmetric method to be rejected")
	}
	if _, err := NewManager(Config{SigningMethod: MethodEd25519}); err == nil {
		t.Fatal("expected missing keys to be rejected")
	}
}

func TestVerifyOnlyManagerCannotIssue(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.CanSign() {
		t.Fatal("expected verify-only manager")
	}
	if _, err := m.Issue("u1", TypeAccess, time.Minute); !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("expected ErrNoSigningKey, got %v", err)
	}
}

func TestES256FromPEM(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal ecdsa key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	m, err := NewManager(Config{SigningMethod: MethodES256, PrivateKey: privPEM})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, err := m.Issue("u1", TypeRefresh, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok.Raw); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestJWKKeyMaterialAndPublicSet(t *testing.T) {
	privJWK, err := GenerateEd25519JWK("k1")
	if err != nil {
		t.Fatalf("generate jwk: %v", err)
	}

	m, err := NewManager(Config{PrivateKey: privJWK, KeyID: "k1"})
	if err != nil {
		t.Fatalf("new manager from jwk: %v", err)
	}
	tok, err := m.Issue("u1", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier, err := NewManager(Config{PublicKey: privJWK, KeyID: "k1"})
	if err != nil {
		t.Fatalf("new verifier from jwk: %v", err)
	}
	if _, err := verifier.Verify(tok.Raw); err != nil {
		t.Fatalf("verify with public half of jwk: %v", err)
	}

	raw, err := m.PublicJWKS()
	if err != nil {
		t.Fatalf("public jwks: %v", err)
	}
	var set struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(set.Keys))
	}
	if set.Keys[0]["kid"] != "k1" || set.Keys[0]["kty"] != "OKP" {
		t.Fatalf("unexpected jwk: %v", set.Keys[0])
	}
	if _, ok := set.Keys[0]["d"]; ok {
		t.Fatal("public jwks leaked private component")
	}
}

func TestVerifyFutureIssuedAtUsesMaxFutureIAT(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		MaxFutureIAT:  2 * time.Minute,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	sign := func(iat time.Time) string {
		claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			ID:        "j1",
			Subject:   "u1",
			IssuedAt:  gjwt.NewNumericDate(iat),
			ExpiresAt: gjwt.NewNumericDate(iat.Add(time.Hour)),
		}}
		raw, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return raw
	}

	// No leeway is configured; skew up to MaxFutureIAT is still tolerated.
	if _, err := m.Verify(sign(clock.now.Add(90 * time.Second))); err != nil {
		t.Fatalf("expected iat within MaxFutureIAT to verify: %v", err)
	}
	if _, err := m.Verify(sign(clock.now.Add(3 * time.Minute))); !errors.Is(err, ErrMalformedClaims) {
		t.Fatalf("expected iat beyond MaxFutureIAT to be malformed, got %v", err)
	}
}

func TestGenerationOnlyOnRefreshTokens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m, _ := newTestManager(t, clock)

	refresh, err := m.Issue("u1", TypeRefresh, time.Hour, WithGeneration(7))
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	claims, err := m.VerifyAs(refresh.Raw, TypeRefresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if claims.Generation != 7 {
		t.Fatalf("expected generation 7, got %d", claims.Generation)
	}

	access, err := m.Issue("u1", TypeAccess, time.Minute, WithGeneration(7))
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if access.Claims.Generation != 0 {
		t.Fatalf("access token must not carry a generation, got %d", access.Claims.Generation)
	}
}
