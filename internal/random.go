package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ID is a random 128-bit identifier used for sessions and verification
// records.
type ID [16]byte

// Secret is the random half of an opaque token.
type Secret [32]byte

const tokenRawSize = len(ID{}) + len(Secret{})

// NewID returns a random identifier.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	// base64url, no padding
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes the string form produced by ID.String.
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewSecret returns a fresh token secret.
func NewSecret() (Secret, error) {
	var secret Secret
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the only form of a secret that is ever persisted.
func HashSecret(secret Secret) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeToken packs an id and a secret into one opaque base64url string.
// Refresh tokens and email verification codes share this layout.
func EncodeToken(id string, secret Secret) (string, error) {
	parsed, err := ParseID(id)
	if err != nil {
		return "", err
	}

	var raw [tokenRawSize]byte
	copy(raw[:len(parsed)], parsed[:])
	copy(raw[len(parsed):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) (string, Secret, error) {
	var secret Secret

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != tokenRawSize {
		return "", secret, errors.New("invalid token size")
	}

	var id ID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}
