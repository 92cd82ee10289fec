package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiterTest(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
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
	return New(rdb, cfg), mr
}

func TestSignInBudgetExhaustsAndResets(t *testing.T) {
	l, _ := newLimiterTest(t, Config{MaxSignInAttempts: 2, SignInCooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckSignIn(ctx, "a@example.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected check error %v", i, err)
		}
		if err := l.RecordSignInFailure(ctx, "A@example.com ", ""); err != nil {
			t.Fatalf("attempt %d: unexpected record error %v", i, err)
		}
	}
	if err := l.CheckSignIn(ctx, "a@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	if err := l.ResetSignIn(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if n, _ := l.SignInFailures(ctx, "a@example.com"); n != 0 {
		t.Fatalf("expected zero failures after reset, got %d", n)
	}
}

func TestSignInWindowExpires(t *testing.T) {
	l, mr := newLimiterTest(t, Config{MaxSignInAttempts: 1, SignInCooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordSignInFailure(ctx, "b@example.com", "")
	if err := l.CheckSignIn(ctx, "b@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckSignIn(ctx, "b@example.com", ""); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestSignUpIPThrottle(t *testing.T) {
	l, _ := newLimiterTest(t, Config{EnableIPThrottle: true, MaxSignUpAttempts: 1, SignUpCooldown: time.Minute})
	ctx := context.Background()

	if err := l.EnforceSignUp(ctx, "one@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("first sign-up should pass: %v", err)
	}
	if err := l.EnforceSignUp(ctx, "two@example.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP throttle, got %v", err)
	}
}

func TestRefreshThrottleDisabled(t *testing.T) {
	l, _ := newLimiterTest(t, Config{EnableRefreshThrottle: false, MaxRefreshAttempts: 0})
	if err := l.CheckRefresh(context.Background(), "sid"); err != nil {
		t.Fatalf("disabled refresh throttle must pass, got %v", err)
	}
}

func TestRedisDownWrapsUnavailable(t *testing.T) {
	l, mr := newLimiterTest(t, Config{MaxSignInAttempts: 1, SignInCooldown: time.Minute})
	mr.Close()
	err := l.RecordSignInFailure(context.Background(), "c@example.com", "")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
