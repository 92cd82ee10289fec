package mindgate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MrEthical07/mindgate/internal"
	"github.com/MrEthical07/mindgate/internal/rate"
	"github.com/MrEthical07/mindgate/internal/stores"
	"github.com/MrEthical07/mindgate/jwt"
	"github.com/MrEthical07/mindgate/password"
	"github.com/MrEthical07/mindgate/session"
)

// Engine is the identity backend. Build it with New().…Build().
type Engine struct {
	config            Config
	sessionStore      *session.Store
	verificationStore *stores.VerificationStore
	rateLimiter       *rate.Limiter
	passwordHash      *password.Hasher
	jwtManager        *jwt.Manager
	userProvider      UserProvider
	mailer            Mailer
	audit             *auditDispatcher
	metrics           *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the Redis connection behind sessions.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignInWithPassword checks the credentials and starts a session.
//
// Unknown emails and wrong passwords both return ErrInvalidCredentials and
// both count against the sign-in budget. Once the budget is spent every
// attempt returns ErrSignInRateLimited until the window passes.
func (e *Engine) SignInWithPassword(ctx context.Context, email, pass string) (*Session, error) {
	if e == nil || e.passwordHash == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckSignIn(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricSignInRateLimited)
			e.emitAudit(ctx, auditEventSignInRateLimited, false, "", "", ErrSignInRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			e.emitRateLimit(ctx, "sign_in", func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrSignInRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if pass == "" {
		return nil, e.signInFailure(ctx, email, ip, "", "empty_password")
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.signInFailure(ctx, email, ip, "", "user_not_found")
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ok, err := e.passwordHash.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.signInFailure(ctx, email, ip, user.UserID, "password_mismatch")
	}

	if e.config.Verification.RequireForSignIn && !user.Verified {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, user.UserID, "", ErrAccountUnverified, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "pending_verification"}
		})
		return nil, ErrAccountUnverified
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, pass)
	}

	if err := e.rateLimiter.ResetSignIn(ctx, email, ip); err != nil {
		log.Print("mindgate: sign-in throttle reset failed")
	}

	sess, sid, err := e.startSession(ctx, Identity{ID: user.UserID, Email: user.Email, Verified: user.Verified})
	if err != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, user.UserID, "", err, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "session_creation"}
		})
		return nil, err
	}

	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignInSuccess, true, user.UserID, sid, nil, nil)
	return sess, nil
}

// signInFailure counts a failed attempt and returns the error to surface.
func (e *Engine) signInFailure(ctx context.Context, email, ip, userID, reason string) error {
	if err := e.rateLimiter.RecordSignInFailure(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricSignInRateLimited)
			e.emitAudit(ctx, auditEventSignInRateLimited, false, userID, "", ErrSignInRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			e.emitRateLimit(ctx, "sign_in", func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return ErrSignInRateLimited
		}
		log.Print("mindgate: sign-in failure counter update failed")
	}

	e.metricInc(MetricSignInFailure)
	e.emitAudit(ctx, auditEventSignInFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"identifier": email, "reason": reason}
	})
	return ErrInvalidCredentials
}

// upgradePasswordHash re-hashes with current parameters. Failures are
// logged and never block the sign-in.
func (e *Engine) upgradePasswordHash(ctx context.Context, user UserRecord, pass string) {
	needs, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.passwordHash.Hash(pass)
	if err != nil {
		log.Print("mindgate: password hash upgrade generation failed")
		return
	}
	if err := e.userProvider.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
		log.Print("mindgate: password hash upgrade update failed")
		e.emitAudit(ctx, auditEventPasswordUpgradeFailure, false, user.UserID, "", err, nil)
	}
}

// startSession saves a new session record and issues its token pair.
func (e *Engine) startSession(ctx context.Context, user Identity) (*Session, string, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return nil, "", err
	}
	sid := id.String()

	now := time.Now()
	rec := &session.Record{
		SessionID:   sid,
		UserID:      user.ID,
		Email:       user.Email,
		Verified:    user.Verified,
		RefreshHash: internal.HashSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.Session.Lifetime).Unix(),
	}
	if err := e.sessionStore.Save(ctx, rec, e.config.Session.Lifetime); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess, err := e.issueTokens(rec, secret)
	if err != nil {
		if delErr := e.sessionStore.Delete(ctx, sid); delErr != nil {
			log.Print("mindgate: cleanup of half-created session failed")
		}
		return nil, "", err
	}

	e.metricInc(MetricSessionCreated)
	return sess, sid, nil
}

func (e *Engine) issueTokens(rec *session.Record, secret internal.Secret) (*Session, error) {
	access, expiresAt, err := e.jwtManager.CreateAccess(rec.UserID, rec.SessionID, rec.Email, rec.Verified)
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeToken(rec.SessionID, secret)
	if err != nil {
		return nil, err
	}
	return &Session{
		User:         Identity{ID: rec.UserID, Email: rec.Email, Verified: rec.Verified},
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates the refresh token and returns a new Session. The old
// refresh token stops working. Presenting it again revokes the session and
// returns ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, presented, err := internal.DecodeToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, ErrRefreshInvalid
	}

	if err := e.rateLimiter.CheckRefresh(ctx, sessionID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", sessionID, ErrRefreshRateLimited, nil)
			e.emitRateLimit(ctx, "refresh", func() map[string]string {
				return map[string]string{"session_id": sessionID}
			})
			return nil, ErrRefreshRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	next, err := internal.NewSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	rec, err := e.sessionStore.RotateRefreshHash(ctx, sessionID, internal.HashSecret(presented), internal.HashSecret(next))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricSessionInvalidated)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sessionID, ErrRefreshReuse, nil)
			return nil, ErrRefreshReuse
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrCorruptRecord):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionNotFound, func() map[string]string {
				return map[string]string{"reason": "session_not_found"}
			})
			return nil, ErrSessionNotFound
		default:
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrBackendUnavailable, func() map[string]string {
				return map[string]string{"reason": "rotate_failed"}
			})
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	sess, err := e.issueTokens(rec, next)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.SessionID, err, func() map[string]string {
			return map[string]string{"reason": "issue_tokens_failed"}
		})
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, rec.UserID, rec.SessionID, nil, nil)
	return sess, nil
}

// Validate verifies an access token and checks that its session still
// exists. Rejections wrap ErrUnauthorized; a revoked session additionally
// wraps ErrSessionNotFound.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.Enabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}

	rec, err := e.sessionStore.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorruptRecord) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if rec.UserID != claims.UID {
		return nil, ErrUnauthorized
	}

	return &AuthResult{
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		Email:     rec.Email,
		Verified:  rec.Verified,
	}, nil
}

// GetUser validates accessToken and returns the current account identity.
func (e *Engine) GetUser(ctx context.Context, accessToken string) (Identity, error) {
	res, err := e.Validate(ctx, accessToken)
	if err != nil {
		return Identity{}, err
	}

	user, err := e.userProvider.GetUserByID(ctx, res.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, ErrUnauthorized
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return Identity{ID: user.UserID, Email: user.Email, Verified: user.Verified}, nil
}

// SignOut revokes the session behind accessToken. Signing out an already
// revoked session succeeds.
func (e *Engine) SignOut(ctx context.Context, accessToken string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return ErrUnauthorized
	}
	if err := e.sessionStore.Delete(ctx, claims.SID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricSignOut)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventSignOut, true, claims.UID, claims.SID, nil, nil)
	return nil
}

// SignOutEverywhere revokes every session of userID.
func (e *Engine) SignOutEverywhere(ctx context.Context, userID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventSignOut, true, userID, "", nil, func() map[string]string {
		return map[string]string{"scope": "all"}
	})
	return nil
}
