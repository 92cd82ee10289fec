package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newVerificationStoreTest(t *testing.T) (*VerificationStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewVerificationStore(rdb, ""), mr
}

func TestVerificationConsumeIsSingleUse(t *testing.T) {
	store, _ := newVerificationStoreTest(t)
	ctx := context.Background()
	hash := [32]byte{7}

	if err := store.Save(ctx, "v1", VerificationRecord{UserID: "u1", Email: "a@example.com"}, hash, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := store.Consume(ctx, "v1", hash, 3)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if rec.UserID != "u1" || rec.Email != "a@example.com" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := store.Consume(ctx, "v1", hash, 3); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected ErrVerificationNotFound on reuse, got %v", err)
	}
}

func TestVerificationAttemptsCap(t *testing.T) {
	store, _ := newVerificationStoreTest(t)
	ctx := context.Background()
	good := [32]byte{1}
	bad := [32]byte{2}

	if err := store.Save(ctx, "v2", VerificationRecord{UserID: "u2"}, good, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Consume(ctx, "v2", bad, 2); !errors.Is(err, ErrVerificationSecretMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if _, err := store.Consume(ctx, "v2", bad, 2); !errors.Is(err, ErrVerificationAttemptsExceeded) {
		t.Fatalf("expected attempts exceeded, got %v", err)
	}
	if _, err := store.Consume(ctx, "v2", good, 2); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("record must be gone after cap, got %v", err)
	}
}

func TestVerificationExpires(t *testing.T) {
	store, mr := newVerificationStoreTest(t)
	ctx := context.Background()
	hash := [32]byte{3}

	if err := store.Save(ctx, "v3", VerificationRecord{UserID: "u3"}, hash, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := store.Consume(ctx, "v3", hash, 3); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
