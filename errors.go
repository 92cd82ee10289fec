package mindgate

import "errors"

var (
	// ErrUnauthorized is returned by Validate for missing or rejected access tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a UserProvider when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrSignInRateLimited is returned when the sign-in failure budget is spent.
	ErrSignInRateLimited = errors.New("sign-in rate limited")
	// ErrSignUpRateLimited is returned when the sign-up budget is spent.
	ErrSignUpRateLimited = errors.New("sign-up rate limited")
	// ErrRefreshRateLimited is returned when a session refreshes too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrAccountExists is returned by SignUp for an email that is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountUnverified is returned by sign-in when verification is required
	// and the email has not been confirmed.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrPasswordPolicy wraps password length violations.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrSessionNotFound is returned when the session behind a token is gone.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshInvalid is returned for refresh tokens that do not decode.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already rotated refresh token is
	// presented again. The session is revoked.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrVerificationInvalid is returned for unknown, expired, exhausted or
	// wrong verification codes.
	ErrVerificationInvalid = errors.New("verification code invalid")
	// ErrBackendUnavailable wraps Redis and provider transport failures.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when a zero or partially built Engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrProviderDuplicateIdentifier must be returned by UserProvider.CreateUser
	// when the email is taken. The engine maps it to ErrAccountExists.
	ErrProviderDuplicateIdentifier = errors.New("provider duplicate identifier")
)
