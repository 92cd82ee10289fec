package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/MrEthical07/mindgate"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Path:    filepath.Join(t.TempDir(), "mindgate.db"),
		WALMode: true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	versions, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if len(versions) != 3 || versions[0] != "0001" || versions[2] != "0003" {
		t.Fatalf("unexpected versions %v", versions)
	}

	var tracks int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&tracks); err != nil {
		t.Fatalf("count tracks: %v", err)
	}
	if tracks == 0 {
		t.Fatal("seed tracks missing")
	}
	if err := db.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/abc_users.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected malformed filename error")
	}

	fsys = fstest.MapFS{
		"migrations/0001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/0001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestUsersLifecycle(t *testing.T) {
	users := NewUsers(openTestDB(t))
	ctx := context.Background()

	created, err := users.CreateUser(ctx, mindgate.CreateUserInput{Email: "ada@example.com", PasswordHash: "h1"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.UserID == "" || created.Verified {
		t.Fatalf("unexpected record %+v", created)
	}

	if _, err := users.CreateUser(ctx, mindgate.CreateUserInput{Email: "ada@example.com", PasswordHash: "h2"}); !errors.Is(err, mindgate.ErrProviderDuplicateIdentifier) {
		t.Fatalf("expected duplicate identifier, got %v", err)
	}

	if err := users.MarkVerified(ctx, created.UserID); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	if err := users.UpdatePasswordHash(ctx, created.UserID, "h3"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}

	got, err := users.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if !got.Verified || got.PasswordHash != "h3" || got.UserID != created.UserID {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at round trip: %v vs %v", got.CreatedAt, created.CreatedAt)
	}

	byID, err := users.GetUserByID(ctx, created.UserID)
	if err != nil || byID.Email != "ada@example.com" {
		t.Fatalf("GetUserByID: %+v, %v", byID, err)
	}
}

func TestUsersNotFound(t *testing.T) {
	users := NewUsers(openTestDB(t))
	ctx := context.Background()

	if _, err := users.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, mindgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := users.MarkVerified(ctx, "missing"); !errors.Is(err, mindgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
