package password

import (
	"errors"
	"fmt"
)

// Default length bounds for account passwords, in bytes.
const (
	DefaultMinBytes = 10
	DefaultMaxBytes = 256
)

var (
	// ErrTooShort is returned when a password is below Policy.MinBytes.
	ErrTooShort = errors.New("password is too short")
	// ErrTooLong is returned when a password exceeds Policy.MaxBytes.
	ErrTooLong = errors.New("password is too long")
)

// Policy bounds the raw byte length of a password. No Unicode normalization
// is applied.
type Policy struct {
	MinBytes int
	MaxBytes int
}

// DefaultPolicy returns the 10..256 byte policy.
func DefaultPolicy() Policy {
	return Policy{MinBytes: DefaultMinBytes, MaxBytes: DefaultMaxBytes}
}

func (p Policy) withDefaults() Policy {
	if p.MinBytes <= 0 {
		p.MinBytes = DefaultMinBytes
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultMaxBytes
	}
	return p
}

// Check returns ErrTooShort or ErrTooLong, wrapped with the limit that was hit.
func (p Policy) Check(password string) error {
	p = p.withDefaults()
	if len(password) < p.MinBytes {
		return fmt.Errorf("%w: minimum %d bytes", ErrTooShort, p.MinBytes)
	}
	if len(password) > p.MaxBytes {
		return fmt.Errorf("%w: maximum %d bytes", ErrTooLong, p.MaxBytes)
	}
	return nil
}

// Validate rejects inverted bounds.
func (p Policy) Validate() error {
	p = p.withDefaults()
	if p.MinBytes > p.MaxBytes {
		return errors.New("password policy: min bytes exceeds max bytes")
	}
	return nil
}
