package password

import (
	"errors"
	"strings"
	"testing"
)

func testParams() Params {
	return Params{
		Memory:      minMemoryKB,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testParams(), DefaultPolicy())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("breathe-in-slowly")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("breathe-in-slowly", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify: ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("breathe-out-fast", encoded)
	if err != nil {
		t.Fatalf("Verify wrong password: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	h := newTestHasher(t)
	encoded, err := h.Hash("padded-variant-ok")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	parts := strings.Split(encoded, "$")
	for _, i := range []int{4, 5} {
		for len(parts[i])%4 != 0 {
			parts[i] += "="
		}
	}
	padded := strings.Join(parts, "$")

	ok, err := h.Verify("padded-variant-ok", padded)
	if err != nil || !ok {
		t.Fatalf("Verify padded: ok=%v err=%v", ok, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := newTestHasher(t)
	encoded, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	same, err := weak.NeedsUpgrade(encoded)
	if err != nil || same {
		t.Fatalf("same params: upgrade=%v err=%v", same, err)
	}

	strongParams := testParams()
	strongParams.Time = 2
	strong, err := NewHasher(strongParams, DefaultPolicy())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	upgrade, err := strong.NeedsUpgrade(encoded)
	if err != nil || !upgrade {
		t.Fatalf("stronger params: upgrade=%v err=%v", upgrade, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	cases := []string{
		"not-a-phc-hash",
		"$bcrypt$v=19$m=8192,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=18$m=8192,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=19$m=1,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=19$m=8192,t=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
	}
	for _, c := range cases {
		if _, err := h.Verify("whatever-password", c); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("Verify(%q) err=%v, want ErrMalformedHash", c, err)
		}
	}
}

func TestHashEnforcesPolicy(t *testing.T) {
	h := newTestHasher(t)

	if _, err := h.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("short password err=%v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", DefaultMaxBytes+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("long password err=%v", err)
	}
	if _, err := h.Hash(strings.Repeat("b", DefaultMaxBytes)); err != nil {
		t.Fatalf("max length password: %v", err)
	}
}

func TestVerifyRejectsOversizedInput(t *testing.T) {
	h := newTestHasher(t)
	encoded, err := h.Hash("ordinary-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if _, err := h.Verify(strings.Repeat("c", DefaultMaxBytes+1), encoded); !errors.Is(err, ErrTooLong) {
		t.Fatalf("oversized verify err=%v", err)
	}
}

func TestNewHasherRejectsWeakParams(t *testing.T) {
	p := testParams()
	p.SaltLength = 8
	if _, err := NewHasher(p, DefaultPolicy()); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
	if _, err := NewHasher(testParams(), Policy{MinBytes: 20, MaxBytes: 12}); err == nil {
		t.Fatal("expected inverted policy to be rejected")
	}
}
