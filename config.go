package mindgate

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/mindgate/password"
)

// Config holds every tunable of the identity engine. Build it with
// DefaultConfig and adjust; Validate runs inside Builder.Build.
type Config struct {
	JWT          JWTConfig
	Session      SessionConfig
	Password     PasswordConfig
	Verification VerificationConfig
	SignUp       SignUpConfig
	Security     SecurityConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures server-side session records.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime bounds the session and therefore its refresh token.
	Lifetime time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id costs and the length policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinBytes       int
	MaxBytes       int
	UpgradeOnLogin bool
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig controls email verification codes.
type VerificationConfig struct {
	RedisPrefix      string
	TTL              time.Duration
	MaxAttempts      int
	RequireForSignIn bool
}

/*
====================================
SIGN-UP CONFIG
====================================
*/

// SignUpConfig throttles account creation.
type SignUpConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig holds throttling knobs.
type SecurityConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxSignInAttempts       int
	SignInCooldown          time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// DefaultConfig returns a configuration that passes Validate once signing
// keys are supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "mindgate",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "mg:sess",
			Lifetime:    30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinBytes:       password.DefaultMinBytes,
			MaxBytes:       password.DefaultMaxBytes,
			UpgradeOnLogin: true,
		},
		Verification: VerificationConfig{
			RedisPrefix:      "mg:vc",
			TTL:              24 * time.Hour,
			MaxAttempts:      5,
			RequireForSignIn: true,
		},
		SignUp: SignUpConfig{
			MaxAttempts: 5,
			Cooldown:    time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			EnableIPThrottle:        false,
			EnableRefreshThrottle:   true,
			MaxSignInAttempts:       5,
			SignInCooldown:          15 * time.Minute,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.Lifetime < c.JWT.AccessTTL {
		return errors.New("Session Lifetime must be >= JWT AccessTTL")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must be set")
	}

	// Password
	if c.Password.MinBytes > c.Password.MaxBytes && c.Password.MaxBytes > 0 {
		return errors.New("Password MinBytes must be <= MaxBytes")
	}
	if err := c.passwordParams().Validate(); err != nil {
		return err
	}

	// Verification
	if c.Verification.TTL <= 0 {
		return errors.New("Verification TTL must be > 0")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}

	// Throttles
	if c.SignUp.MaxAttempts <= 0 || c.SignUp.Cooldown <= 0 {
		return errors.New("SignUp MaxAttempts and Cooldown must be > 0")
	}
	if c.Security.MaxSignInAttempts <= 0 || c.Security.SignInCooldown <= 0 {
		return errors.New("Security MaxSignInAttempts and SignInCooldown must be > 0")
	}
	if c.Security.EnableRefreshThrottle && (c.Security.MaxRefreshAttempts <= 0 || c.Security.RefreshCooldownDuration <= 0) {
		return errors.New("refresh throttle requires MaxRefreshAttempts and RefreshCooldownDuration > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func (c *Config) passwordParams() password.Params {
	return password.Params{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c *Config) passwordPolicy() password.Policy {
	return password.Policy{MinBytes: c.Password.MinBytes, MaxBytes: c.Password.MaxBytes}
}
