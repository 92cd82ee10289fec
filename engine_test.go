package mindgate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type mockUserProvider struct {
	mu      sync.Mutex
	nextID  int
	byID    map[string]UserRecord
	byEmail map[string]string
	updates int
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{byID: map[string]UserRecord{}, byEmail: map[string]string{}}
}

func (p *mockUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return p.byID[id], nil
}

func (p *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (p *mockUserProvider) CreateUser(_ context.Context, in CreateUserInput) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byEmail[in.Email]; ok {
		return UserRecord{}, ErrProviderDuplicateIdentifier
	}
	p.nextID++
	u := UserRecord{
		UserID:       "user-" + strconv.Itoa(p.nextID),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		CreatedAt:    time.Now(),
	}
	p.byID[u.UserID] = u
	p.byEmail[u.Email] = u.UserID
	return u, nil
}

func (p *mockUserProvider) MarkVerified(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Verified = true
	p.byID[userID] = u
	return nil
}

func (p *mockUserProvider) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	p.byID[userID] = u
	p.updates++
	return nil
}

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendVerification(_ context.Context, _ string, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		t.Fatal("no verification mail sent")
	}
	u, err := url.Parse(m.links[len(m.links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.Query().Get("code")
}

func testConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.AccessTTL = time.Minute
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.MaxSignInAttempts = 3
	return cfg
}

type testEngine struct {
	*Engine
	mr     *miniredis.Miniredis
	users  *mockUserProvider
	mailer *captureMailer
}

func buildTestEngine(t *testing.T, cfg Config, sink AuditSink) *testEngine {
	t.Helper()
	mr, rdb := newTestRedis(t)
	users := newMockUserProvider()
	mailer := &captureMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithMailer(mailer).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEngine{Engine: engine, mr: mr, users: users, mailer: mailer}
}

// signUpVerified registers email and exchanges its code, returning the
// first session.
func (te *testEngine) signUpVerified(t *testing.T, email, pass string) *Session {
	t.Helper()
	ctx := context.Background()
	if _, err := te.SignUp(ctx, email, pass, "http://app.test/auth/callback"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	sess, err := te.ExchangeCodeForSession(ctx, te.mailer.lastCode(t))
	if err != nil {
		t.Fatalf("ExchangeCodeForSession: %v", err)
	}
	return sess
}

func TestSignUpVerifyAndSignIn(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	ctx := context.Background()

	id, err := te.SignUp(ctx, "  Calm@Example.com ", "deep-breaths-only", "http://app.test/auth/callback?next=/account")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if id.Email != "calm@example.com" || id.Verified {
		t.Fatalf("unexpected identity %+v", id)
	}

	if _, err := te.SignInWithPassword(ctx, "calm@example.com", "deep-breaths-only"); !errors.Is(err, ErrAccountUnverified) {
		t.Fatalf("expected ErrAccountUnverified before verification, got %v", err)
	}

	link, _ := url.Parse(te.mailer.links[0])
	if link.Query().Get("next") != "/account" {
		t.Fatalf("redirect query lost: %s", link)
	}

	code := te.mailer.lastCode(t)
	sess, err := te.ExchangeCodeForSession(ctx, code)
	if err != nil {
		t.Fatalf("ExchangeCodeForSession: %v", err)
	}
	if !sess.User.Verified || sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := te.ExchangeCodeForSession(ctx, code); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("code reuse should fail, got %v", err)
	}

	signedIn, err := te.SignInWithPassword(ctx, "CALM@example.com", "deep-breaths-only")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	res, err := te.Validate(ctx, signedIn.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.UserID != id.ID {
		t.Fatalf("Validate user = %s, want %s", res.UserID, id.ID)
	}

	user, err := te.GetUser(ctx, signedIn.AccessToken)
	if err != nil || !user.Verified {
		t.Fatalf("GetUser = %+v, %v", user, err)
	}

	snap := te.MetricsSnapshot()
	if snap.Counters[MetricSignUpSuccess] != 1 || snap.Counters[MetricSessionCreated] != 2 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
}

func TestSignUpRejections(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	ctx := context.Background()

	if _, err := te.SignUp(ctx, "not-an-email", "long-enough-pass", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("invalid email err=%v", err)
	}
	if _, err := te.SignUp(ctx, "a@example.com", "short", ""); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("password policy err=%v", err)
	}
	if _, err := te.SignUp(ctx, "a@example.com", "long-enough-pass", ""); err != nil {
		t.Fatalf("first SignUp: %v", err)
	}
	if _, err := te.SignUp(ctx, "a@example.com", "long-enough-pass", ""); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate err=%v", err)
	}
}

func TestSignUpRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.SignUp.MaxAttempts = 2
	te := buildTestEngine(t, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = te.SignUp(ctx, "spam@example.com", "short", "")
	}
	if _, err := te.SignUp(ctx, "spam@example.com", "long-enough-pass", ""); !errors.Is(err, ErrSignUpRateLimited) {
		t.Fatalf("expected ErrSignUpRateLimited, got %v", err)
	}
}

func TestSignInFailuresThenRateLimit(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	te.signUpVerified(t, "quiet@example.com", "correct-password")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := te.SignInWithPassword(ctx, "quiet@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := te.SignInWithPassword(ctx, "quiet@example.com", "correct-password"); !errors.Is(err, ErrSignInRateLimited) {
		t.Fatalf("expected ErrSignInRateLimited, got %v", err)
	}

	te.mr.FastForward(16 * time.Minute)
	if _, err := te.SignInWithPassword(ctx, "quiet@example.com", "correct-password"); err != nil {
		t.Fatalf("sign-in after cooldown: %v", err)
	}
}

func TestSignInUnknownUserLooksLikeWrongPassword(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	if _, err := te.SignInWithPassword(context.Background(), "nobody@example.com", "whatever-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshRotationAndReuse(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	first := te.signUpVerified(t, "rotate@example.com", "correct-password")
	ctx := context.Background()

	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := te.Validate(ctx, second.AccessToken); err != nil {
		t.Fatalf("Validate rotated access: %v", err)
	}

	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}
	if _, err := te.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session should be revoked after reuse, got %v", err)
	}
	_, err = te.Validate(ctx, second.AccessToken)
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session on Validate, got %v", err)
	}
	if te.MetricsSnapshot().Counters[MetricRefreshReuseDetected] != 1 {
		t.Fatal("reuse not counted")
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.EnableRefreshThrottle = false
	te := buildTestEngine(t, cfg, nil)
	sess := te.signUpVerified(t, "race@example.com", "correct-password")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := te.Refresh(context.Background(), sess.RefreshToken); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners > 1 {
		t.Fatalf("expected at most one winner, got %d", winners)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	if _, err := te.Refresh(context.Background(), "garbage"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	sess := te.signUpVerified(t, "leave@example.com", "correct-password")
	ctx := context.Background()

	if err := te.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("first SignOut: %v", err)
	}
	if err := te.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
	if _, err := te.Validate(ctx, sess.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after sign-out, got %v", err)
	}
	if err := te.SignOut(ctx, "not-a-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for bad token, got %v", err)
	}
}

func TestSignOutEverywhere(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	first := te.signUpVerified(t, "all@example.com", "correct-password")
	second, err := te.SignInWithPassword(context.Background(), "all@example.com", "correct-password")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}

	if err := te.SignOutEverywhere(context.Background(), first.User.ID); err != nil {
		t.Fatalf("SignOutEverywhere: %v", err)
	}
	for _, s := range []*Session{first, second} {
		if _, err := te.Validate(context.Background(), s.AccessToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("session survived: %v", err)
		}
	}
}

func TestPasswordUpgradeOnSignIn(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	te.signUpVerified(t, "upgrade@example.com", "correct-password")

	// Rebuild against the same users with stronger parameters.
	cfg := testConfig(t)
	cfg.Password.Time = 2
	_, rdb := newTestRedis(t)
	stronger, err := New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(te.users).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer stronger.Close()

	if _, err := stronger.SignInWithPassword(context.Background(), "upgrade@example.com", "correct-password"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if te.users.updates != 1 {
		t.Fatalf("expected one hash upgrade, got %d", te.users.updates)
	}
}

func TestBackendDownWrapsUnavailable(t *testing.T) {
	te := buildTestEngine(t, testConfig(t), nil)
	te.mr.Close()

	if _, err := te.SignInWithPassword(context.Background(), "x@example.com", "whatever-pass"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if err := te.Ping(context.Background()); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("Ping err=%v", err)
	}
}

func TestBuildRequiresDependencies(t *testing.T) {
	_, rdb := newTestRedis(t)
	if _, err := New().WithConfig(testConfig(t)).WithUserProvider(newMockUserProvider()).Build(); err == nil {
		t.Fatal("expected missing redis to fail")
	}
	if _, err := New().WithConfig(testConfig(t)).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected missing user provider to fail")
	}

	b := New().WithConfig(testConfig(t)).WithRedis(rdb).WithUserProvider(newMockUserProvider())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
}
