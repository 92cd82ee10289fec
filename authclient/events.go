package authclient

import (
	"sync"

	"github.com/MrEthical07/mindgate"
)

// Event names a session change.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives session changes. sess is nil for EventSignedOut and
// for an EventInitialSession without a session.
type Listener func(event Event, sess *mindgate.Session)

// Subscription is returned by OnAuthStateChange.
type Subscription struct {
	id     uint64
	fn     Listener
	client *Client

	mu     sync.Mutex
	active bool
}

// Unsubscribe stops delivery. It is safe to call more than once and from
// inside the listener.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.mu.Unlock()
	if wasActive && s.client != nil {
		s.client.removeSubscription(s.id)
	}
}

func (s *Subscription) deliver(event Event, sess *mindgate.Session) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active {
		s.fn(event, sess)
	}
}

type job struct {
	event   Event
	session *mindgate.Session
	// target limits delivery to one subscriber; initial resolves the
	// session inside the dispatcher before delivering to target.
	target  *Subscription
	initial bool
}

// dispatcher is an unbounded FIFO drained by one goroutine. Producers never
// block, so the dispatcher can enqueue from inside a delivery.
type dispatcher struct {
	mu      sync.Mutex
	queue   []job
	wake    chan struct{}
	stopped bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{wake: make(chan struct{}, 1)}
}

func (d *dispatcher) push(j job) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, j)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) pop() (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return job{}, false
	}
	j := d.queue[0]
	d.queue[0] = job{}
	d.queue = d.queue[1:]
	return j, true
}

func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.queue = nil
	d.mu.Unlock()
}
