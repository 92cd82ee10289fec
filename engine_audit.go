package mindgate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignInSuccess          = "sign_in_success"
	auditEventSignInFailure          = "sign_in_failure"
	auditEventSignInRateLimited      = "sign_in_rate_limited"
	auditEventSignUpSuccess          = "sign_up_success"
	auditEventSignUpFailure          = "sign_up_failure"
	auditEventSignUpDuplicate        = "sign_up_duplicate"
	auditEventSignUpRateLimited      = "sign_up_rate_limited"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventRefreshRateLimited     = "refresh_rate_limited"
	auditEventRefreshReuseDetected   = "refresh_reuse_detected"
	auditEventVerificationRequest    = "email_verification_request"
	auditEventVerificationConfirm    = "email_verification_confirm"
	auditEventSignOut                = "sign_out"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventPasswordUpgradeFailure = "password_upgrade_failure"
)

// AuditErrorCode is the stable, log-safe form of an engine error.
type AuditErrorCode string

const (
	auditErrUnauthorized        AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrRefreshReuse        AuditErrorCode = "refresh_reuse"
	auditErrRefreshInvalid      AuditErrorCode = "refresh_invalid"
	auditErrSessionNotFound     AuditErrorCode = "session_not_found"
	auditErrAccountUnverified   AuditErrorCode = "account_unverified"
	auditErrPasswordPolicy      AuditErrorCode = "password_policy"
	auditErrInvalidEmail        AuditErrorCode = "invalid_email"
	auditErrVerificationInvalid AuditErrorCode = "verification_invalid"
	auditErrDuplicate           AuditErrorCode = "duplicate"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{"scope": scope}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrSignInRateLimited),
		errors.Is(err, ErrSignUpRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrVerificationInvalid):
		return auditErrVerificationInvalid
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
