package session

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	schemaVersionCurrent = 1
	maxRecordBytes       = 4096
)

// ErrCorruptRecord is returned when a stored blob cannot be decoded.
var ErrCorruptRecord = errors.New("session record corrupt")

// wireRecord is the on-disk layout. Fields are encoded as a CBOR array so the
// order below is part of the format: append only.
type wireRecord struct {
	_           struct{} `cbor:",toarray"`
	Version     uint8
	SessionID   string
	UserID      string
	Email       string
	Verified    bool
	RefreshHash []byte
	CreatedAt   int64
	ExpiresAt   int64
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 16,
		MaxMapPairs:      16,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes r with the current schema version.
func Encode(r *Record) ([]byte, error) {
	if r.SessionID == "" || r.UserID == "" {
		return nil, errors.New("session: record requires session and user ids")
	}
	w := wireRecord{
		Version:     schemaVersionCurrent,
		SessionID:   r.SessionID,
		UserID:      r.UserID,
		Email:       r.Email,
		Verified:    r.Verified,
		RefreshHash: r.RefreshHash[:],
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
	return encMode.Marshal(&w)
}

// Decode parses a blob produced by Encode. Unknown schema versions and
// malformed input wrap ErrCorruptRecord.
func Decode(data []byte) (*Record, error) {
	if len(data) == 0 || len(data) > maxRecordBytes {
		return nil, fmt.Errorf("%w: size %d", ErrCorruptRecord, len(data))
	}

	var w wireRecord
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if w.Version == 0 || w.Version > schemaVersionCurrent {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrCorruptRecord, w.Version)
	}
	if len(w.RefreshHash) != 32 {
		return nil, fmt.Errorf("%w: refresh hash length %d", ErrCorruptRecord, len(w.RefreshHash))
	}
	if w.SessionID == "" || w.UserID == "" {
		return nil, fmt.Errorf("%w: missing ids", ErrCorruptRecord)
	}

	r := &Record{
		SchemaVersion: w.Version,
		SessionID:     w.SessionID,
		UserID:        w.UserID,
		Email:         w.Email,
		Verified:      w.Verified,
		CreatedAt:     w.CreatedAt,
		ExpiresAt:     w.ExpiresAt,
	}
	copy(r.RefreshHash[:], w.RefreshHash)
	return r, nil
}
