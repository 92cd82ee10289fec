package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
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

func signed(t *testing.T, method gjwt.SigningMethod, key any, kid string, claims AccessClaims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func claimsFor(iss, aud string, exp time.Time) AccessClaims {
	c := AccessClaims{UID: "u1", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    iss,
		ExpiresAt: gjwt.NewNumericDate(exp),
		IssuedAt:  gjwt.NewNumericDate(exp.Add(-time.Minute)),
	}}
	if aud != "" {
		c.Audience = gjwt.ClaimStrings{aud}
	}
	return c
}

func TestCreateAndParseAccess(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, exp, err := m.CreateAccess("user-7", "sess-7", "quiet@example.com", true)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if d := time.Until(exp); d <= 0 || d > time.Minute {
		t.Fatalf("unexpected expiry distance %v", d)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UID != "user-7" || claims.SID != "sess-7" || claims.Email != "quiet@example.com" || !claims.Verified {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.CreateAccess("u", "s", "", false)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("parse access: %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token := signed(t, gjwt.SigningMethodHS256, []byte("secret-secret-secret-secret"), "", claimsFor("", "", time.Now().Add(time.Minute)))
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyOnlyManagerCannotSign(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, _, err := m.CreateAccess("u", "s", "", false); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
}

func TestParseAccessIssuerAudienceAndLeeway(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "mindgate",
		Audience:      "app",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	cases := []struct {
		name string
		c    AccessClaims
		ok   bool
	}{
		{"valid", claimsFor("mindgate", "app", time.Now().Add(time.Minute)), true},
		{"wrong issuer", claimsFor("other", "app", time.Now().Add(time.Minute)), false},
		{"wrong audience", claimsFor("mindgate", "other-app", time.Now().Add(time.Minute)), false},
		{"expired within leeway", claimsFor("mindgate", "app", time.Now().Add(-15*time.Second)), true},
		{"expired", claimsFor("mindgate", "app", time.Now().Add(-2*time.Minute)), false},
	}
	for _, tc := range cases {
		_, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv, "", tc.c))
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}

func TestParseAccessRequiresSessionClaims(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	c := claimsFor("", "", time.Now().Add(time.Minute))
	c.SID = ""
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv, "", c)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected missing sid rejection, got %v", err)
	}
}

func TestParseAccessKeyRotation(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	c := claimsFor("", "", time.Now().Add(time.Minute))
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "k1", c)); err != nil {
		t.Fatalf("old key should still verify: %v", err)
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "k3", c)); err == nil {
		t.Fatal("expected unknown kid rejection")
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "", c)); err == nil {
		t.Fatal("expected missing kid rejection")
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "k2", c)); err == nil {
		t.Fatal("expected signature mismatch for k2")
	}

	fresh, _, err := m.CreateAccess("u", "s", "", false)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(fresh); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, _ := newEdKeys(t)
	bad := []Config{
		{AccessTTL: 0, SigningMethod: MethodEd25519, PublicKey: pub},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, Leeway: time.Hour},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PublicKey: pub},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, KeyID: "missing", VerifyKeys: map[string][]byte{"k1": pub}},
	}
	for i, cfg := range bad {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
