package mindgate

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"

	"github.com/MrEthical07/mindgate/internal"
	"github.com/MrEthical07/mindgate/internal/rate"
	"github.com/MrEthical07/mindgate/internal/stores"
)

const defaultEmailRedirect = "/auth/callback"

// SignUp creates an unverified account and mails a verification link of the
// form <redirectTo>?code=<code>. It does not start a session; the device
// gets one when the code is exchanged.
func (e *Engine) SignUp(ctx context.Context, email, pass, redirectTo string) (Identity, error) {
	if e == nil || e.passwordHash == nil || e.userProvider == nil {
		return Identity{}, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.EnforceSignUp(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricSignUpRateLimited)
			e.emitAudit(ctx, auditEventSignUpRateLimited, false, "", "", ErrSignUpRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			e.emitRateLimit(ctx, "sign_up", func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return Identity{}, ErrSignUpRateLimited
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := validateEmail(email); err != nil {
		e.signUpFailure(ctx, email, err)
		return Identity{}, err
	}
	if err := e.passwordHash.Policy().Check(pass); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		e.signUpFailure(ctx, email, wrapped)
		return Identity{}, wrapped
	}
	link, err := url.Parse(redirectOrDefault(redirectTo))
	if err != nil {
		return Identity{}, fmt.Errorf("mindgate: invalid redirect target: %w", err)
	}

	if _, err := e.userProvider.GetUserByEmail(ctx, email); err == nil {
		e.signUpDuplicate(ctx, email)
		return Identity{}, ErrAccountExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return Identity{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return Identity{}, err
	}

	user, err := e.userProvider.CreateUser(ctx, CreateUserInput{Email: email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, ErrProviderDuplicateIdentifier) {
			e.signUpDuplicate(ctx, email)
			return Identity{}, ErrAccountExists
		}
		e.signUpFailure(ctx, email, err)
		return Identity{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.sendVerification(ctx, user, link); err != nil {
		e.signUpFailure(ctx, email, err)
		return Identity{}, err
	}

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUpSuccess, true, user.UserID, "", nil, nil)
	return Identity{ID: user.UserID, Email: user.Email, Verified: user.Verified}, nil
}

func (e *Engine) signUpFailure(ctx context.Context, email string, err error) {
	e.emitAudit(ctx, auditEventSignUpFailure, false, "", "", err, func() map[string]string {
		return map[string]string{"identifier": email}
	})
}

func (e *Engine) signUpDuplicate(ctx context.Context, email string) {
	e.metricInc(MetricSignUpDuplicate)
	e.emitAudit(ctx, auditEventSignUpDuplicate, false, "", "", ErrAccountExists, func() map[string]string {
		return map[string]string{"identifier": email}
	})
}

func (e *Engine) sendVerification(ctx context.Context, user UserRecord, link *url.URL) error {
	id, err := internal.NewID()
	if err != nil {
		return err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return err
	}
	verificationID := id.String()

	record := stores.VerificationRecord{UserID: user.UserID, Email: user.Email}
	if err := e.verificationStore.Save(ctx, verificationID, record, internal.HashSecret(secret), e.config.Verification.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	code, err := internal.EncodeToken(verificationID, secret)
	if err != nil {
		return err
	}
	q := link.Query()
	q.Set("code", code)
	link.RawQuery = q.Encode()

	if err := e.mailer.SendVerification(ctx, user.Email, link.String()); err != nil {
		return fmt.Errorf("%w: mail delivery: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricVerificationRequest)
	e.emitAudit(ctx, auditEventVerificationRequest, true, user.UserID, "", nil, nil)
	return nil
}

// ExchangeCodeForSession consumes a verification code, marks the account
// verified and starts a session. Codes are single use; wrong codes count
// against the record's attempt cap.
func (e *Engine) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	if e == nil || e.verificationStore == nil {
		return nil, ErrEngineNotReady
	}

	verificationID, secret, err := internal.DecodeToken(code)
	if err != nil {
		e.verificationFailure(ctx, "", "decode_failed")
		return nil, ErrVerificationInvalid
	}

	rec, err := e.verificationStore.Consume(ctx, verificationID, internal.HashSecret(secret), e.config.Verification.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrVerificationNotFound):
			e.verificationFailure(ctx, "", "not_found")
			return nil, ErrVerificationInvalid
		case errors.Is(err, stores.ErrVerificationSecretMismatch):
			e.verificationFailure(ctx, "", "secret_mismatch")
			return nil, ErrVerificationInvalid
		case errors.Is(err, stores.ErrVerificationAttemptsExceeded):
			e.verificationFailure(ctx, "", "attempts_exceeded")
			return nil, ErrVerificationInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if err := e.userProvider.MarkVerified(ctx, rec.UserID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.verificationFailure(ctx, rec.UserID, "user_not_found")
			return nil, ErrVerificationInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess, sid, err := e.startSession(ctx, Identity{ID: rec.UserID, Email: rec.Email, Verified: true})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricVerificationSuccess)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, rec.UserID, sid, nil, nil)
	return sess, nil
}

func (e *Engine) verificationFailure(ctx context.Context, userID, reason string) {
	e.metricInc(MetricVerificationFailure)
	e.emitAudit(ctx, auditEventVerificationConfirm, false, userID, "", ErrVerificationInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func validateEmail(email string) error {
	if email == "" || len(email) > 254 {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrInvalidEmail
	}
	return nil
}

func redirectOrDefault(redirectTo string) string {
	if redirectTo == "" {
		return defaultEmailRedirect
	}
	return redirectTo
}
