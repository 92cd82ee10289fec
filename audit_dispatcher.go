package mindgate

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// securityAuditEvents are never dropped for lack of buffer space: the
// caller waits for room, bounded by its context.
var securityAuditEvents = map[string]bool{
	auditEventRefreshReuseDetected: true,
	auditEventRateLimitTriggered:   true,
}

// auditDispatcher moves audit events off the request path. Callers enqueue
// on a buffered queue and one goroutine hands events to the sink in order.
//
// With DropIfFull a full queue drops routine events and counts them.
// Security events always wait for room. A sink that panics loses that one
// event, which is counted as dropped.
type auditDispatcher struct {
	sink       AuditSink
	queue      chan AuditEvent
	stop       chan struct{}
	loopDone   sync.WaitGroup
	dropIfFull bool
	dropped    atomic.Uint64
	closing    atomic.Bool
	closeOnce  sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:       sink,
		queue:      make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	d.loopDone.Add(1)
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer d.loopDone.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.flush()
			return
		}
	}
}

// flush delivers what was queued before Close.
func (d *auditDispatcher) flush() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *auditDispatcher) deliver(ev AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.dropped.Add(1)
			log.Printf("mindgate: audit sink panicked on %s: %v", ev.EventType, r)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. It only blocks for security events, or for every event
// when DropIfFull is off; an abandoned wait counts as a drop.
func (d *auditDispatcher) Emit(ctx context.Context, ev AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull && !securityAuditEvents[ev.EventType] {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-d.stop:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events, flushes the queue and waits for the sink.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.loopDone.Wait()
	})
}

// Dropped counts events lost to a full queue, an expired context or a
// panicking sink.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
