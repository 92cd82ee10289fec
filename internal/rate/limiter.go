package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	EnableRefreshThrottle bool

	MaxSignInAttempts int
	SignInCooldown    time.Duration

	MaxSignUpAttempts int
	SignUpCooldown    time.Duration

	MaxRefreshAttempts int
	RefreshCooldown    time.Duration
}

// Limiter enforces per-email, per-IP and per-session budgets using Redis
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSignIn reports ErrRateLimited when the email or IP has used up its
// failure budget. It does not count the attempt.
func (l *Limiter) CheckSignIn(ctx context.Context, email, ip string) error {
	if err := l.checkCounter(ctx, signInEmailKey(email), l.config.MaxSignInAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, signInIPKey(ip), l.config.MaxSignInAttempts); err != nil {
			return err
		}
	}

	return nil
}

// RecordSignInFailure counts one failed sign-in.
func (l *Limiter) RecordSignInFailure(ctx context.Context, email, ip string) error {
	count, err := l.incrementWithTTL(ctx, signInEmailKey(email), l.config.SignInCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSignInAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, signInIPKey(ip), l.config.SignInCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxSignInAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetSignIn clears the failure counters after a successful sign-in.
func (l *Limiter) ResetSignIn(ctx context.Context, email, ip string) error {
	keys := []string{signInEmailKey(email)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, signInIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// EnforceSignUp counts a sign-up attempt and fails once the email or IP
// window is exhausted. Every attempt counts, successful or not.
func (l *Limiter) EnforceSignUp(ctx context.Context, email, ip string) error {
	count, err := l.incrementWithTTL(ctx, signUpEmailKey(email), l.config.SignUpCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSignUpAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, signUpIPKey(ip), l.config.SignUpCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxSignUpAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// CheckRefresh counts a refresh for the session and fails past the limit.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, refreshKey(sessionID), l.config.RefreshCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}

	return nil
}

// SignInFailures returns the current failure count for an email. Missing
// keys read as zero.
func (l *Limiter) SignInFailures(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, signInEmailKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: TTL only on the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func signInEmailKey(email string) string { return "mg:rl:si:" + normalizeEmail(email) }
func signInIPKey(ip string) string       { return "mg:rl:sip:" + ip }
func signUpEmailKey(email string) string { return "mg:rl:su:" + normalizeEmail(email) }
func signUpIPKey(ip string) string       { return "mg:rl:sup:" + ip }
func refreshKey(sessionID string) string { return "mg:rl:rf:" + sessionID }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
