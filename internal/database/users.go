package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/MrEthical07/mindgate"
)

// Users is the SQLite account store backing the engine.
type Users struct {
	db  *DB
	now func() time.Time
}

var _ mindgate.UserProvider = (*Users)(nil)

// NewUsers returns a repository over db. Migrate must have run.
func NewUsers(db *DB) *Users {
	return &Users{db: db, now: time.Now}
}

const userColumns = "id, email, password_hash, verified, created_at"

func (u *Users) GetUserByEmail(ctx context.Context, email string) (mindgate.UserRecord, error) {
	return u.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

func (u *Users) GetUserByID(ctx context.Context, userID string) (mindgate.UserRecord, error) {
	return u.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
}

func (u *Users) getOne(ctx context.Context, query string, arg string) (mindgate.UserRecord, error) {
	var (
		rec       mindgate.UserRecord
		verified  int
		createdAt string
	)
	err := u.db.QueryRowContext(ctx, query, arg).Scan(&rec.UserID, &rec.Email, &rec.PasswordHash, &verified, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mindgate.UserRecord{}, mindgate.ErrUserNotFound
	}
	if err != nil {
		return mindgate.UserRecord{}, fmt.Errorf("querying user: %w", err)
	}
	rec.Verified = verified != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by CreateUser
	return rec, nil
}

func (u *Users) CreateUser(ctx context.Context, input mindgate.CreateUserInput) (mindgate.UserRecord, error) {
	rec := mindgate.UserRecord{
		UserID:       uuid.NewString(),
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		CreatedAt:    u.now().UTC(),
	}
	_, err := u.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, 0, ?)",
		rec.UserID, rec.Email, rec.PasswordHash, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return mindgate.UserRecord{}, mindgate.ErrProviderDuplicateIdentifier
	}
	if err != nil {
		return mindgate.UserRecord{}, fmt.Errorf("inserting user: %w", err)
	}
	return rec, nil
}

func (u *Users) MarkVerified(ctx context.Context, userID string) error {
	return u.updateOne(ctx, "UPDATE users SET verified = 1 WHERE id = ?", userID)
}

func (u *Users) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	return u.updateOne(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, userID)
}

func (u *Users) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := u.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if n == 0 {
		return mindgate.ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
