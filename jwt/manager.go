package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using PrivateKey as the shared secret.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrInvalidToken wraps every parse or validation failure.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrMissingSigningKey is returned by CreateAccess on verify-only managers.
	ErrMissingSigningKey = errors.New("no signing key configured")
)

// Config holds signing and validation settings for a Manager.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	// VerifyKeys, when set, selects the verification key by the token's kid
	// header. It allows old keys to keep verifying during rotation.
	VerifyKeys map[string][]byte
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	UID      string `json:"uid"`
	SID      string `json:"sid"`
	Email    string `json:"email,omitempty"`
	Verified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// Manager creates and parses access tokens. It is immutable after NewManager
// and safe for concurrent use.
type Manager struct {
	cfg     Config
	method  jwt.SigningMethod
	signKey any
	verify  map[string]any
	fixed   any
	parser  *jwt.Parser
}

// NewManager validates cfg and decodes its keys once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: access TTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("jwt: max future iat must be within (0, 24h]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{cfg: cfg, verify: make(map[string]any, len(cfg.VerifyKeys))}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 requires a shared secret")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.fixed = cfg.PrivateKey
		for kid, key := range cfg.VerifyKeys {
			m.verify[kid] = key
		}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.fixed = pub
		}
		if m.fixed == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("jwt: ed25519 requires a public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			pub, err := parseEdPublicKey(key)
			if err != nil {
				return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
			}
			m.verify[kid] = pub
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	for kid := range m.verify {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify key set contains an empty kid")
		}
	}
	if cfg.KeyID != "" && len(m.verify) > 0 {
		if _, ok := m.verify[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// TTL returns the configured access token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.cfg.AccessTTL
}

// CreateAccess signs an access token for the given session and returns it
// with its expiry.
func (m *Manager) CreateAccess(uid, sid, email string, verified bool) (string, time.Time, error) {
	if m.signKey == nil {
		return "", time.Time{}, ErrMissingSigningKey
	}

	now := time.Now()
	expiresAt := now.Add(m.cfg.AccessTTL)

	claims := AccessClaims{
		UID:      uid,
		SID:      sid,
		Email:    email,
		Verified: verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.cfg.KeyID != "" {
		token.Header["kid"] = m.cfg.KeyID
	}

	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies tokenStr and returns its claims. Every failure wraps
// ErrInvalidToken.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.keyFor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, fmt.Errorf("%w: missing uid or sid", ErrInvalidToken)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(time.Now().Add(m.cfg.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalidToken)
	}
	return claims, nil
}

func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(m.verify) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.verify[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if m.cfg.KeyID != "" && kid != m.cfg.KeyID {
		return nil, errors.New("unknown kid")
	}
	if m.fixed == nil {
		return nil, errors.New("no verification key")
	}
	return m.fixed, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: private key is not ed25519")
	}
	return priv, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: public key is not ed25519")
	}
	return pub, nil
}
