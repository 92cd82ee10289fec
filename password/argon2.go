package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// ErrMalformedHash is returned when a stored hash is not a PHC argon2id string
// this package can read.
var ErrMalformedHash = errors.New("malformed password hash")

// Params are the Argon2id cost parameters. Memory is in KiB.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the parameters used for new accounts.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate checks the parameters against the package floors.
func (p Params) Validate() error {
	switch {
	case p.Memory < minMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KiB", minMemoryKB)
	case p.Time < minTimeCost:
		return errors.New("password: time must be >= 1")
	case p.Parallelism < minParallelism:
		return errors.New("password: parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case p.KeyLength < minKeyLength:
		return fmt.Errorf("password: key length must be >= %d", minKeyLength)
	}
	return nil
}

// Hasher derives and checks Argon2id hashes. It is safe for concurrent use.
type Hasher struct {
	params Params
	policy Policy
}

// NewHasher validates params and policy and returns a Hasher.
func NewHasher(params Params, policy Policy) (*Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: params, policy: policy.withDefaults()}, nil
}

// Policy returns the length policy enforced by Hash and Verify.
func (h *Hasher) Policy() Policy {
	return h.policy
}

// Hash checks the policy and returns a PHC encoded hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.policy.Check(password); err != nil {
		return "", err
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return encodePHC(h.params, salt, key), nil
}

// Verify reports whether password matches encoded. Oversized input is
// rejected before derivation so it cannot be used to burn CPU.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > h.policy.MaxBytes {
		return false, fmt.Errorf("%w: maximum %d bytes", ErrTooLong, h.policy.MaxBytes)
	}

	stored, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, stored.Time, stored.Memory, stored.Parallelism, stored.KeyLength)
	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with parameters weaker
// than the hasher's current ones.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	stored, _, _, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	return h.params.Memory > stored.Memory ||
		h.params.Time > stored.Time ||
		h.params.Parallelism > stored.Parallelism ||
		h.params.KeyLength != stored.KeyLength, nil
}

func encodePHC(p Params, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.Memory,
		p.Time,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func decodePHC(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, fmt.Errorf("%w: expected 6 segments", ErrMalformedHash)
	}
	if parts[1] != algorithmID {
		return p, nil, nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedHash, parts[1])
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return p, nil, nil, fmt.Errorf("%w: bad version", ErrMalformedHash)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedHash, version)
	}

	if err := parseCosts(parts[3], &p); err != nil {
		return p, nil, nil, err
	}

	salt, err := decodeSegment(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return p, nil, nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	key, err := decodeSegment(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}

// decodeSegment accepts padded and unpadded base64 so hashes written by
// other PHC implementations still verify.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func parseCosts(segment string, p *Params) error {
	seen := 0
	for _, pair := range strings.Split(segment, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return fmt.Errorf("%w: bad memory", ErrMalformedHash)
			}
			p.Memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return fmt.Errorf("%w: bad time", ErrMalformedHash)
			}
			p.Time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return fmt.Errorf("%w: bad parallelism", ErrMalformedHash)
			}
			p.Parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 {
		return fmt.Errorf("%w: expected m, t and p", ErrMalformedHash)
	}
	return nil
}
