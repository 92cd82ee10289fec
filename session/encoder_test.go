package session

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestEncodeDecode(t *testing.T) {
	in := &Record{
		SessionID:   "sid-1",
		UserID:      "u-1",
		Email:       "a@example.com",
		Verified:    true,
		RefreshHash: [32]byte{1, 2, 3},
		CreatedAt:   10,
		ExpiresAt:   20,
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.SchemaVersion != schemaVersionCurrent {
		t.Fatalf("schema version = %d", out.SchemaVersion)
	}
	out.SchemaVersion = 0
	if *out != *in {
		t.Fatalf("decoded %+v, want %+v", out, in)
	}
}

func TestDecodeRejectsFutureSchema(t *testing.T) {
	w := wireRecord{Version: schemaVersionCurrent + 1, SessionID: "s", UserID: "u", RefreshHash: make([]byte, 32)}
	data, err := cbor.Marshal(&w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestDecodeRejectsShortRefreshHash(t *testing.T) {
	w := wireRecord{Version: schemaVersionCurrent, SessionID: "s", UserID: "u", RefreshHash: []byte{1}}
	data, err := cbor.Marshal(&w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestEncodeRequiresIDs(t *testing.T) {
	if _, err := Encode(&Record{UserID: "u"}); err == nil {
		t.Fatal("expected missing session id to fail")
	}
}
