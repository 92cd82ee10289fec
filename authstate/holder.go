package authstate

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/authclient"
)

// Source is the SDK boundary. *authclient.Client satisfies it.
type Source interface {
	GetSession(ctx context.Context) (*mindgate.Session, error)
	OnAuthStateChange(fn authclient.Listener) *authclient.Subscription
}

var _ Source = (*authclient.Client)(nil)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("authstate: holder already started")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("authstate: holder closed")
)

// Snapshot is the observable state. Loading is true until the first push
// or the initial fetch resolves.
type Snapshot struct {
	Session *mindgate.Session
	Loading bool
}

// Holder is the single current session of one device.
type Holder struct {
	source Source
	logger *slog.Logger

	state atomic.Pointer[Snapshot]
	ready chan struct{}

	mu        sync.Mutex
	active    bool
	started   bool
	closed    bool
	resolved  bool
	readyOnce sync.Once
	sub       *authclient.Subscription
	watchers  map[uint64]func(Snapshot)
	nextWatch uint64

	// held across a whole write so watchers see writes in order
	notifyMu sync.Mutex
}

// New returns an unstarted holder in the loading state.
func New(source Source, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Holder{
		source:   source,
		logger:   logger.With("component", "authstate"),
		ready:    make(chan struct{}),
		watchers: make(map[uint64]func(Snapshot)),
	}
	h.state.Store(&Snapshot{Loading: true})
	return h
}

// Start subscribes to session changes, then fetches the current session
// once. A fetch failure is logged and treated as no session. The fetch
// result is dropped when a push has already resolved the holder.
func (h *Holder) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.started {
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.started = true
	h.active = true
	h.mu.Unlock()

	sub := h.source.OnAuthStateChange(func(_ authclient.Event, sess *mindgate.Session) {
		h.apply(sess, false)
	})

	h.mu.Lock()
	if !h.active {
		// closed while subscribing
		h.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	h.sub = sub
	h.mu.Unlock()

	sess, err := h.source.GetSession(ctx)
	if err != nil {
		h.logger.Warn("initial session fetch failed", "error", err)
		sess = nil
	}
	h.apply(sess, true)
	return nil
}

func (h *Holder) apply(sess *mindgate.Session, fromFetch bool) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	if !h.active || (fromFetch && h.resolved) {
		h.mu.Unlock()
		return
	}
	h.resolved = true
	snap := &Snapshot{Session: sess}
	h.state.Store(snap)
	h.readyOnce.Do(func() { close(h.ready) })

	watchers := make([]func(Snapshot), 0, len(h.watchers))
	for _, id := range slices.Sorted(maps.Keys(h.watchers)) {
		watchers = append(watchers, h.watchers[id])
	}
	h.mu.Unlock()

	for _, fn := range watchers {
		fn(*snap)
	}
}

// Current returns the held session, or nil.
func (h *Holder) Current() *mindgate.Session {
	return h.state.Load().Session
}

// Loading reports whether the holder has not resolved yet.
func (h *Holder) Loading() bool {
	return h.state.Load().Loading
}

// Snapshot returns session and loading flag from the same write.
func (h *Holder) Snapshot() Snapshot {
	return *h.state.Load()
}

// Ready is closed at first resolution, or at Close if that comes first.
func (h *Holder) Ready() <-chan struct{} {
	return h.ready
}

// Watch calls fn after every state change until cancel is called. Calls
// are serialized and arrive in write order.
func (h *Holder) Watch(fn func(Snapshot)) (cancel func()) {
	h.mu.Lock()
	h.nextWatch++
	id := h.nextWatch
	h.watchers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
	}
}

// Close unsubscribes. The state is frozen from here on and the holder
// cannot be started again.
func (h *Holder) Close() {
	h.mu.Lock()
	h.closed = true
	h.active = false
	sub := h.sub
	h.sub = nil
	h.watchers = make(map[uint64]func(Snapshot))
	h.readyOnce.Do(func() { close(h.ready) })
	h.mu.Unlock()

	sub.Unsubscribe()
}
