package authclient

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/mindgate"
)

// Backend is the identity service the client talks to. *mindgate.Engine
// satisfies it.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*mindgate.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (mindgate.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*mindgate.Session, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*mindgate.Session, error)
	GetUser(ctx context.Context, accessToken string) (mindgate.Identity, error)
}

// Storage is where the session is persisted. It never fails; a
// credstore.Adapter satisfies it.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Remove(ctx context.Context, key string)
}

var _ Backend = (*mindgate.Engine)(nil)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("authclient: client closed")

const (
	DefaultStorageKey      = "mg-auth-token"
	DefaultExpiryMargin    = 10 * time.Second
	DefaultRefreshMargin   = 5 * time.Minute
	DefaultRefreshInterval = 30 * time.Second
	initialSessionTimeout  = 10 * time.Second
)

// Options configure a Client. Zero values take the defaults above.
type Options struct {
	// StorageKey is the key the session is stored under.
	StorageKey string
	// PersistSession stores the session in Storage. When false the session
	// lives only in the client.
	PersistSession bool
	// ExpiryMargin treats a session as expired this long before ExpiresAt.
	ExpiryMargin time.Duration
	// RefreshMargin is how early the auto-refresh loop rotates tokens.
	RefreshMargin time.Duration
	// RefreshInterval is how often the auto-refresh loop checks.
	RefreshInterval time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StorageKey == "" {
		o.StorageKey = DefaultStorageKey
	}
	if o.ExpiryMargin <= 0 {
		o.ExpiryMargin = DefaultExpiryMargin
	}
	if o.RefreshMargin <= 0 {
		o.RefreshMargin = DefaultRefreshMargin
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Client is one device's view of the backend.
type Client struct {
	backend Backend
	storage Storage
	opts    Options
	logger  *slog.Logger

	refreshGroup singleflight.Group

	mu      sync.Mutex
	memory  *mindgate.Session
	subs    map[uint64]*Subscription
	nextSub uint64
	closed  bool

	disp   *dispatcher
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	autoRefresh sync.Once
}

// New starts a client. Close must be called to stop its goroutines.
func New(backend Backend, storage Storage, opts Options) *Client {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		backend: backend,
		storage: storage,
		opts:    opts,
		logger:  opts.Logger.With("component", "authclient", "storage_key", opts.StorageKey),
		subs:    make(map[uint64]*Subscription),
		disp:    newDispatcher(),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.wg.Add(1)
	go c.dispatchLoop()
	return c
}

// Close stops event delivery and auto refresh. Pending events are dropped.
// The stored session is kept.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = map[uint64]*Subscription{}
	c.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}
	c.disp.stop()
	c.cancel()
	c.wg.Wait()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OnAuthStateChange registers fn. fn first receives EventInitialSession
// with the current session, then every later change, in order.
func (c *Client) OnAuthStateChange(fn Listener) *Subscription {
	sub := &Subscription{fn: fn, client: c, active: fn != nil}
	if fn == nil {
		return sub
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.active = false
		return sub
	}
	c.nextSub++
	sub.id = c.nextSub
	c.subs[sub.id] = sub
	c.mu.Unlock()

	c.disp.push(job{event: EventInitialSession, target: sub, initial: true})
	return sub
}

func (c *Client) removeSubscription(id uint64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *Client) emit(event Event, sess *mindgate.Session) {
	c.disp.push(job{event: event, session: sess})
}

func (c *Client) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.disp.wake:
		}

		for {
			j, ok := c.disp.pop()
			if !ok {
				break
			}
			c.deliver(j)
			if c.ctx.Err() != nil {
				return
			}
		}
	}
}

func (c *Client) deliver(j job) {
	if j.initial {
		ctx, cancel := context.WithTimeout(c.ctx, initialSessionTimeout)
		sess, err := c.GetSession(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("initial session lookup failed", "error", err)
		}
		j.target.deliver(EventInitialSession, sess)
		return
	}

	if j.target != nil {
		j.target.deliver(j.event, j.session)
		return
	}

	c.mu.Lock()
	targets := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		targets = append(targets, s)
	}
	c.mu.Unlock()

	slices.SortFunc(targets, func(a, b *Subscription) int { return cmp.Compare(a.id, b.id) })
	for _, s := range targets {
		s.deliver(j.event, j.session)
	}
}

/* ==================== SESSION STORAGE ==================== */

func (c *Client) loadSession(ctx context.Context) *mindgate.Session {
	if !c.opts.PersistSession {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.memory
	}

	raw, ok := c.storage.Get(ctx, c.opts.StorageKey)
	if !ok {
		return nil
	}
	var sess mindgate.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.RefreshToken == "" {
		c.logger.Warn("discarding unreadable stored session", "error", err)
		c.storage.Remove(ctx, c.opts.StorageKey)
		return nil
	}
	return &sess
}

func (c *Client) saveSession(ctx context.Context, sess *mindgate.Session) {
	if !c.opts.PersistSession {
		c.mu.Lock()
		c.memory = sess
		c.mu.Unlock()
		return
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		c.logger.Error("encoding session", "error", err)
		return
	}
	c.storage.Set(ctx, c.opts.StorageKey, string(raw))
}

func (c *Client) removeSession(ctx context.Context) {
	if !c.opts.PersistSession {
		c.mu.Lock()
		c.memory = nil
		c.mu.Unlock()
		return
	}
	c.storage.Remove(ctx, c.opts.StorageKey)
}

/* ==================== OPERATIONS ==================== */

// GetSession returns the current session, refreshing it first when it has
// expired. It returns nil without error when signed out. A refresh the
// backend rejects clears the session, emits EventSignedOut and returns the
// backend error; a transport failure keeps the stored session.
func (c *Client) GetSession(ctx context.Context) (*mindgate.Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	sess := c.loadSession(ctx)
	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(c.opts.Now(), c.opts.ExpiryMargin) {
		return sess, nil
	}
	return c.refresh(ctx, sess)
}

// RefreshSession rotates the tokens of the current session now.
func (c *Client) RefreshSession(ctx context.Context) (*mindgate.Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	sess := c.loadSession(ctx)
	if sess == nil {
		return nil, mindgate.ErrSessionNotFound
	}
	return c.refresh(ctx, sess)
}

// refresh is collapsed per refresh token: a rotated token is single use, so
// concurrent callers must share one backend call.
func (c *Client) refresh(ctx context.Context, stale *mindgate.Session) (*mindgate.Session, error) {
	v, err, _ := c.refreshGroup.Do(stale.RefreshToken, func() (any, error) {
		// another caller may have rotated while we waited
		if cur := c.loadSession(ctx); cur != nil && cur.RefreshToken != stale.RefreshToken {
			return cur, nil
		}

		next, err := c.backend.Refresh(ctx, stale.RefreshToken)
		if err != nil {
			if isTerminal(err) {
				c.logger.Info("session ended by backend", "error", err)
				c.removeSession(ctx)
				c.emit(EventSignedOut, nil)
			}
			return nil, err
		}
		c.saveSession(ctx, next)
		c.emit(EventTokenRefreshed, next)
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mindgate.Session), nil
}

func isTerminal(err error) bool {
	return errors.Is(err, mindgate.ErrRefreshReuse) ||
		errors.Is(err, mindgate.ErrSessionNotFound) ||
		errors.Is(err, mindgate.ErrRefreshInvalid) ||
		errors.Is(err, mindgate.ErrUnauthorized)
}

// GetUser returns the identity behind the current session, verified with
// the backend.
func (c *Client) GetUser(ctx context.Context) (mindgate.Identity, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return mindgate.Identity{}, err
	}
	if sess == nil {
		return mindgate.Identity{}, mindgate.ErrUnauthorized
	}
	return c.backend.GetUser(ctx, sess.AccessToken)
}

// SignInWithPassword signs in and stores the new session. Subscribers
// receive EventSignedIn; callers must not publish the returned session
// themselves.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*mindgate.Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	sess, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.saveSession(ctx, sess)
	c.emit(EventSignedIn, sess)
	return sess, nil
}

// SignUp registers an account. The backend mails a link to redirectTo;
// no session is created until the code is exchanged.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (mindgate.Identity, error) {
	if c.isClosed() {
		return mindgate.Identity{}, ErrClosed
	}
	return c.backend.SignUp(ctx, email, password, redirectTo)
}

// ExchangeCodeForSession redeems a verification code and stores the
// resulting session.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*mindgate.Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	sess, err := c.backend.ExchangeCodeForSession(ctx, code)
	if err != nil {
		return nil, err
	}
	c.saveSession(ctx, sess)
	c.emit(EventSignedIn, sess)
	return sess, nil
}

// SignOut revokes the session with the backend and clears it locally. A
// session the backend no longer knows is cleared without error; a
// transport failure leaves it in place.
func (c *Client) SignOut(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	sess, err := c.GetSession(ctx)
	if err != nil {
		if isTerminal(err) {
			// GetSession already cleared the session and notified
			return nil
		}
		return err
	}
	if sess == nil {
		return nil
	}

	if err := c.backend.SignOut(ctx, sess.AccessToken); err != nil && !isTerminal(err) {
		return fmt.Errorf("sign out: %w", err)
	}
	c.removeSession(ctx)
	c.emit(EventSignedOut, nil)
	return nil
}

/* ==================== AUTO REFRESH ==================== */

// RefreshIfDue rotates the session when it expires within RefreshMargin.
func (c *Client) RefreshIfDue(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	sess := c.loadSession(ctx)
	if sess == nil || !sess.Expired(c.opts.Now(), c.opts.RefreshMargin) {
		return nil
	}
	_, err := c.refresh(ctx, sess)
	return err
}

// StartAutoRefresh starts a background loop that calls RefreshIfDue every
// RefreshInterval until ctx is done or the client is closed. Calling it
// again has no effect.
func (c *Client) StartAutoRefresh(ctx context.Context) {
	c.autoRefresh.Do(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()

		go func() {
			defer c.wg.Done()
			ticker := time.NewTicker(c.opts.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.ctx.Done():
					return
				case <-ticker.C:
					if err := c.RefreshIfDue(c.ctx); err != nil && !errors.Is(err, ErrClosed) {
						c.logger.Warn("auto refresh failed", "error", err)
					}
				}
			}
		}()
	})
}
