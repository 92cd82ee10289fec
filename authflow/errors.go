package authflow

import (
	"errors"

	"github.com/MrEthical07/mindgate"
)

// Kind classifies a flow failure.
type Kind uint8

const (
	// KindNetwork covers transport failures and unknown errors.
	KindNetwork Kind = iota + 1
	// KindCredentialRejected is user-correctable and the only kind shown
	// to the user.
	KindCredentialRejected
	// KindStorageUnavailable is logged and degraded to memory, never shown.
	KindStorageUnavailable
	// KindSessionExpired is handled exactly like having no session.
	KindSessionExpired
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindCredentialRejected:
		return "credential_rejected"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Op names the flow that failed.
type Op string

const (
	OpSignIn  Op = "sign_in"
	OpSignUp  Op = "sign_up"
	OpSignOut Op = "sign_out"
)

const (
	signInMessage  = "Failed to sign in. Please check your credentials and try again."
	signUpFallback = "Failed to sign up. Please check your details and try again."
	genericMessage = "Something went wrong. Please try again."
)

// AuthError is the error returned by every flow.
type AuthError struct {
	Op   Op
	Kind Kind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return string(e.Op) + ": " + e.Kind.String()
	}
	return string(e.Op) + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// UserMessage is the text to show. Only credential rejections carry
// specific text; everything else gets a generic line.
func (e *AuthError) UserMessage() string {
	if e.Kind != KindCredentialRejected {
		return genericMessage
	}
	if e.Op == OpSignIn {
		return signInMessage
	}
	switch {
	case errors.Is(e.Err, mindgate.ErrAccountExists):
		return "An account with this email already exists."
	case errors.Is(e.Err, mindgate.ErrPasswordPolicy):
		return "Password must be between 10 and 256 characters."
	case errors.Is(e.Err, mindgate.ErrInvalidEmail):
		return "Please enter a valid email address."
	case errors.Is(e.Err, mindgate.ErrSignUpRateLimited):
		return "Too many attempts. Please wait a moment and try again."
	default:
		return signUpFallback
	}
}

// Classify maps an engine or client error to a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, mindgate.ErrInvalidCredentials),
		errors.Is(err, mindgate.ErrAccountUnverified),
		errors.Is(err, mindgate.ErrAccountExists),
		errors.Is(err, mindgate.ErrPasswordPolicy),
		errors.Is(err, mindgate.ErrInvalidEmail),
		errors.Is(err, mindgate.ErrSignInRateLimited),
		errors.Is(err, mindgate.ErrSignUpRateLimited),
		errors.Is(err, mindgate.ErrVerificationInvalid):
		return KindCredentialRejected
	case errors.Is(err, mindgate.ErrRefreshReuse),
		errors.Is(err, mindgate.ErrRefreshInvalid),
		errors.Is(err, mindgate.ErrSessionNotFound),
		errors.Is(err, mindgate.ErrUnauthorized):
		return KindSessionExpired
	default:
		// ErrBackendUnavailable, ErrRefreshRateLimited, context errors and
		// anything unknown. The client keeps its session for all of these.
		return KindNetwork
	}
}

// KindOf returns the Kind of an *AuthError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}
