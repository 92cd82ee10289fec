package mindgate

import (
	"context"
	"log"
	"time"
)

// UserRecord is the persisted account as seen by the engine.
type UserRecord struct {
	UserID       string
	Email        string
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
}

// CreateUserInput is passed to UserProvider.CreateUser.
type CreateUserInput struct {
	Email        string
	PasswordHash string
}

// UserProvider is the account store the engine reads and writes. Lookups
// return ErrUserNotFound for unknown users; CreateUser returns
// ErrProviderDuplicateIdentifier for a taken email. Any other error is
// treated as a backend failure.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// Identity is the user snapshot carried by a Session.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Verified bool   `json:"email_verified"`
}

// Session is what a device holds after signing in. It is replaced as a
// whole on refresh and never mutated in place.
type Session struct {
	User         Identity  `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token has expired at now, allowing
// skew for clock drift and in-flight requests.
func (s *Session) Expired(now time.Time, skew time.Duration) bool {
	if s == nil {
		return true
	}
	return !now.Add(skew).Before(s.ExpiresAt)
}

// AuthResult is returned by Validate for an accepted access token.
type AuthResult struct {
	UserID    string
	SessionID string
	Email     string
	Verified  bool
}

// Mailer delivers verification links.
type Mailer interface {
	SendVerification(ctx context.Context, email, link string) error
}

// LogMailer writes verification links to the standard logger instead of
// sending mail. It is the default when no Mailer is configured.
type LogMailer struct{}

// SendVerification logs the link.
func (LogMailer) SendVerification(_ context.Context, email, link string) error {
	log.Printf("mindgate: verification link for %s: %s", email, link)
	return nil
}
