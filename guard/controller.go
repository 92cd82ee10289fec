package guard

import (
	"sync"
	"time"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/authstate"
)

// Navigator performs redirects. It is the only thing the guard calls on
// the navigation side.
type Navigator interface {
	Redirect(to string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(to string)

func (f NavigatorFunc) Redirect(to string) { f(to) }

// StateView is the part of a session holder the controller reads.
// *authstate.Holder satisfies it.
type StateView interface {
	Snapshot() authstate.Snapshot
	Watch(fn func(authstate.Snapshot)) (cancel func())
}

var _ StateView = (*authstate.Holder)(nil)

type redirectKey struct {
	hasSession bool
	path       string
}

// Controller re-evaluates the policy on every holder change, every Visit
// and when the held session expires. It does nothing while the holder is
// loading.
type Controller struct {
	policy Policy
	state  StateView
	nav    Navigator

	mu      sync.Mutex
	path    string
	last    redirectKey
	hasLast bool
	cancel  func()
	expiry  *time.Timer
}

// NewController binds policy, state and nav. Call Start to begin.
func NewController(policy Policy, state StateView, nav Navigator) *Controller {
	return &Controller{policy: policy, state: state, nav: nav}
}

// Start sets the current path, evaluates once and follows holder changes.
func (c *Controller) Start(path string) {
	cancel := c.state.Watch(func(snap authstate.Snapshot) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.evaluate(snap)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.path = path
	c.evaluate(c.state.Snapshot())
}

// Visit records a navigation and evaluates it.
func (c *Controller) Visit(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	c.hasLast = false
	c.evaluate(c.state.Snapshot())
}

// Path is the path the controller last saw or redirected to.
func (c *Controller) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Stop detaches from the holder.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// evaluate must be called with c.mu held.
func (c *Controller) evaluate(snap authstate.Snapshot) {
	if snap.Loading || c.path == "" {
		return
	}
	live := c.policy.Live(snap.Session)
	c.armExpiry(live)

	d := c.policy.Decide(live, c.path)
	if d.Allow {
		return
	}

	key := redirectKey{hasSession: live != nil, path: c.path}
	if c.hasLast && c.last == key {
		return
	}
	c.last, c.hasLast = key, true
	c.path = d.RedirectTo
	c.nav.Redirect(d.RedirectTo)
}

// armExpiry schedules a re-evaluation for when sess expires. It must be
// called with c.mu held.
func (c *Controller) armExpiry(sess *mindgate.Session) {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	if sess == nil || c.cancel == nil {
		return
	}
	c.expiry = time.AfterFunc(sess.ExpiresAt.Sub(c.policy.now()), func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.cancel == nil {
			return
		}
		c.evaluate(c.state.Snapshot())
	})
}
