package authclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/credstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const goodPassword = "correct horse battery"

// fakeBackend issues sessions with a controllable lifetime and rotates
// refresh tokens like the engine does.
type fakeBackend struct {
	mu        sync.Mutex
	seq       int
	lifetime  time.Duration
	live      map[string]bool // refresh tokens that may still rotate
	revoked   map[string]bool // access tokens signed out
	refreshes atomic.Int32
	signOuts  atomic.Int32
	refreshFn func() error
	signOutFn func() error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{lifetime: time.Hour, live: map[string]bool{}, revoked: map[string]bool{}}
}

func (f *fakeBackend) issue(email string) *mindgate.Session {
	f.seq++
	n := strconv.Itoa(f.seq)
	f.live["rt-"+n] = true
	return &mindgate.Session{
		User:         mindgate.Identity{ID: "user-1", Email: email, Verified: true},
		AccessToken:  "at-" + n,
		RefreshToken: "rt-" + n,
		ExpiresAt:    time.Now().Add(f.lifetime),
	}
}

func (f *fakeBackend) SignInWithPassword(_ context.Context, email, password string) (*mindgate.Session, error) {
	if password != goodPassword {
		return nil, mindgate.ErrInvalidCredentials
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue(email), nil
}

func (f *fakeBackend) SignUp(_ context.Context, email, _, _ string) (mindgate.Identity, error) {
	return mindgate.Identity{ID: "user-2", Email: email}, nil
}

func (f *fakeBackend) SignOut(_ context.Context, accessToken string) error {
	f.signOuts.Add(1)
	if f.signOutFn != nil {
		if err := f.signOutFn(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.revoked[accessToken] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Refresh(_ context.Context, refreshToken string) (*mindgate.Session, error) {
	f.refreshes.Add(1)
	if f.refreshFn != nil {
		if err := f.refreshFn(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[refreshToken] {
		return nil, mindgate.ErrRefreshReuse
	}
	delete(f.live, refreshToken)
	return f.issue("ada@example.com"), nil
}

func (f *fakeBackend) ExchangeCodeForSession(_ context.Context, code string) (*mindgate.Session, error) {
	if code != "good-code" {
		return nil, mindgate.ErrVerificationInvalid
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue("ada@example.com"), nil
}

func (f *fakeBackend) GetUser(_ context.Context, accessToken string) (mindgate.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[accessToken] {
		return mindgate.Identity{}, mindgate.ErrUnauthorized
	}
	return mindgate.Identity{ID: "user-1", Email: "ada@example.com", Verified: true}, nil
}

type recorded struct {
	event Event
	sess  *mindgate.Session
}

func record(c *Client) (*Subscription, <-chan recorded) {
	ch := make(chan recorded, 32)
	sub := c.OnAuthStateChange(func(e Event, s *mindgate.Session) {
		ch <- recorded{event: e, sess: s}
	})
	return sub, ch
}

func next(t *testing.T, ch <-chan recorded) recorded {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return recorded{}
	}
}

func expectQuiet(t *testing.T, ch <-chan recorded) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected event %s", r.event)
	case <-time.After(50 * time.Millisecond):
	}
}

func newClient(t *testing.T, backend Backend, opts Options) (*Client, *credstore.Adapter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := credstore.NewAdapter(credstore.NewMemoryBackend(), logger)
	opts.Logger = logger
	opts.PersistSession = true
	c := New(backend, store, opts)
	t.Cleanup(c.Close)
	return c, store
}

func TestInitialSessionIsDeliveredToEachSubscriber(t *testing.T) {
	c, _ := newClient(t, newFakeBackend(), Options{})

	_, ch := record(c)
	r := next(t, ch)
	require.Equal(t, EventInitialSession, r.event)
	require.Nil(t, r.sess)

	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", goodPassword)
	require.NoError(t, err)
	require.Equal(t, EventSignedIn, next(t, ch).event)

	_, late := record(c)
	r = next(t, late)
	require.Equal(t, EventInitialSession, r.event)
	require.NotNil(t, r.sess)
	require.Equal(t, "ada@example.com", r.sess.User.Email)
}

func TestSignInEmitsExactlyOneChange(t *testing.T) {
	c, store := newClient(t, newFakeBackend(), Options{})
	_, ch := record(c)
	next(t, ch)

	sess, err := c.SignInWithPassword(context.Background(), "ada@example.com", goodPassword)
	require.NoError(t, err)

	r := next(t, ch)
	require.Equal(t, EventSignedIn, r.event)
	require.Equal(t, sess.AccessToken, r.sess.AccessToken)
	expectQuiet(t, ch)

	raw, ok := store.Get(context.Background(), DefaultStorageKey)
	require.True(t, ok)
	require.Contains(t, raw, sess.RefreshToken)
}

func TestSignInRejectedEmitsNothing(t *testing.T) {
	c, store := newClient(t, newFakeBackend(), Options{})
	_, ch := record(c)
	next(t, ch)

	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", "wrong password")
	require.ErrorIs(t, err, mindgate.ErrInvalidCredentials)
	expectQuiet(t, ch)

	_, ok := store.Get(context.Background(), DefaultStorageKey)
	require.False(t, ok)
}

func TestGetSessionRefreshesExpired(t *testing.T) {
	backend := newFakeBackend()
	backend.lifetime = time.Second
	c, _ := newClient(t, backend, Options{ExpiryMargin: 5 * time.Second})
	ctx := context.Background()

	first, err := c.SignInWithPassword(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	_, ch := record(c)

	// the initial delivery already refreshes the expired session
	r := next(t, ch)
	require.Equal(t, EventInitialSession, r.event)
	require.NotNil(t, r.sess)
	require.NotEqual(t, first.RefreshToken, r.sess.RefreshToken)
	require.Equal(t, EventTokenRefreshed, next(t, ch).event)

	backend.lifetime = time.Hour
	got, err := c.RefreshSession(ctx)
	require.NoError(t, err)
	again, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.Equal(t, got.RefreshToken, again.RefreshToken)
}

func TestConcurrentRefreshUsesOneBackendCall(t *testing.T) {
	backend := newFakeBackend()
	backend.lifetime = time.Second
	gate := make(chan struct{})
	c, _ := newClient(t, backend, Options{ExpiryMargin: 5 * time.Second})
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	backend.lifetime = time.Hour
	backend.refreshFn = func() error { <-gate; return nil }

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*mindgate.Session, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetSession(ctx)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].RefreshToken, results[i].RefreshToken)
	}
	require.Equal(t, int32(1), backend.refreshes.Load())
}

func TestRefreshReuseSignsOut(t *testing.T) {
	backend := newFakeBackend()
	c, store := newClient(t, backend, Options{})
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	_, ch := record(c)
	next(t, ch)

	backend.refreshFn = func() error { return mindgate.ErrRefreshReuse }
	_, err = c.RefreshSession(ctx)
	require.ErrorIs(t, err, mindgate.ErrRefreshReuse)

	r := next(t, ch)
	require.Equal(t, EventSignedOut, r.event)
	require.Nil(t, r.sess)
	_, ok := store.Get(ctx, DefaultStorageKey)
	require.False(t, ok)
}

func TestRefreshNetworkFailureKeepsSession(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newClient(t, backend, Options{})
	ctx := context.Background()

	sess, err := c.SignInWithPassword(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)

	backend.refreshFn = func() error { return mindgate.ErrBackendUnavailable }
	_, err = c.RefreshSession(ctx)
	require.ErrorIs(t, err, mindgate.ErrBackendUnavailable)

	cur, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.Equal(t, sess.RefreshToken, cur.RefreshToken)
}

func TestSignOut(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newClient(t, backend, Options{})
	ctx := context.Background()

	require.NoError(t, c.SignOut(ctx), "signing out without a session is a no-op")
	require.Equal(t, int32(0), backend.signOuts.Load())

	sess, err := c.SignInWithPassword(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	_, ch := record(c)
	next(t, ch)

	backend.signOutFn = func() error { return mindgate.ErrBackendUnavailable }
	require.ErrorIs(t, c.SignOut(ctx), mindgate.ErrBackendUnavailable)
	cur, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur, "transport failure must keep the session")

	backend.signOutFn = nil
	require.NoError(t, c.SignOut(ctx))
	require.Equal(t, EventSignedOut, next(t, ch).event)

	cur, err = c.GetSession(ctx)
	require.NoError(t, err)
	require.Nil(t, cur)

	_, err = backend.GetUser(ctx, sess.AccessToken)
	require.ErrorIs(t, err, mindgate.ErrUnauthorized)
}

func TestExchangeCodeAndGetUser(t *testing.T) {
	c, _ := newClient(t, newFakeBackend(), Options{})
	ctx := context.Background()

	_, err := c.GetUser(ctx)
	require.ErrorIs(t, err, mindgate.ErrUnauthorized)

	_, err = c.ExchangeCodeForSession(ctx, "bad-code")
	require.ErrorIs(t, err, mindgate.ErrVerificationInvalid)

	_, err = c.ExchangeCodeForSession(ctx, "good-code")
	require.NoError(t, err)

	user, err := c.GetUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)

	id, err := c.SignUp(ctx, "bob@example.com", goodPassword, "/auth/callback")
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", id.Email)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, _ := newClient(t, newFakeBackend(), Options{})
	sub, ch := record(c)
	next(t, ch)

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", goodPassword)
	require.NoError(t, err)
	expectQuiet(t, ch)
}

func TestCorruptStoredSessionIsDiscarded(t *testing.T) {
	c, store := newClient(t, newFakeBackend(), Options{})
	ctx := context.Background()

	store.Set(ctx, DefaultStorageKey, "{not json")
	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.Nil(t, sess)

	_, ok := store.Get(ctx, DefaultStorageKey)
	require.False(t, ok)
}

func TestMemoryOnlySession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := credstore.NewAdapter(credstore.NewMemoryBackend(), logger)
	c := New(newFakeBackend(), store, Options{Logger: logger})
	defer c.Close()
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)

	_, ok := store.Get(ctx, DefaultStorageKey)
	require.False(t, ok, "session must not be persisted")

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestAutoRefreshRotatesBeforeExpiry(t *testing.T) {
	backend := newFakeBackend()
	backend.lifetime = time.Minute
	c, _ := newClient(t, backend, Options{
		RefreshMargin:   5 * time.Minute,
		RefreshInterval: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := c.SignInWithPassword(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	backend.mu.Lock()
	backend.lifetime = time.Hour
	backend.mu.Unlock()

	c.StartAutoRefresh(ctx)
	c.StartAutoRefresh(ctx)

	require.Eventually(t, func() bool { return backend.refreshes.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), backend.refreshes.Load(), "a fresh session must not be rotated again")
}

func TestClosedClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(newFakeBackend(), credstore.NewAdapter(credstore.NewMemoryBackend(), logger), Options{Logger: logger})
	c.Close()
	c.Close()

	_, err := c.GetSession(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
	_, err = c.SignInWithPassword(context.Background(), "ada@example.com", goodPassword)
	require.ErrorIs(t, err, ErrClosed)

	sub := c.OnAuthStateChange(func(Event, *mindgate.Session) {})
	sub.Unsubscribe()
	c.StartAutoRefresh(context.Background())
}
