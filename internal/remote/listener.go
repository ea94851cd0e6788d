package remote

import (
	"context"
	"sync"
)

type delivery struct {
	snap Snapshot
	err  error
}

// Listener delivers snapshots to a SnapshotFunc from its own goroutine in
// FIFO order. Backends push into it from whatever goroutine observes a
// change; the callback never runs concurrently with itself.
//
// The queue is unbounded so producers (commit hooks, change-stream readers,
// pollers) never block on a slow consumer.
type Listener struct {
	fn SnapshotFunc

	mu       sync.Mutex
	queue    []delivery
	stopped  bool          // no further callbacks
	failing  bool          // terminal error queued
	isIdle   bool          // queue drained and no callback running
	idle     chan struct{} // closed while isIdle
	signal   chan struct{} // buffered, size 1
	done     chan struct{}
	callMu   sync.Mutex // held for the duration of each callback
	stopOnce sync.Once
}

// NewListener starts a delivery goroutine for fn.
func NewListener(fn SnapshotFunc) *Listener {
	idle := make(chan struct{})
	close(idle)
	l := &Listener{
		fn:     fn,
		isIdle: true,
		idle:   idle,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Deliver queues a snapshot. It is a no-op after Cancel or Fail.
func (l *Listener) Deliver(snap Snapshot) {
	l.push(delivery{snap: snap})
}

// Fail queues a terminal error. The listener stops after delivering it.
func (l *Listener) Fail(err error) {
	l.push(delivery{err: err})
}

func (l *Listener) push(d delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || l.failing {
		return
	}
	if d.err != nil {
		l.failing = true
	}
	l.queue = append(l.queue, d)
	if l.isIdle {
		l.isIdle = false
		l.idle = make(chan struct{})
	}

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Cancel implements Subscription. It waits for an in-flight callback to
// return, so it must not be called from inside the callback.
func (l *Listener) Cancel() {
	l.stop()
	l.callMu.Lock()
	defer l.callMu.Unlock()
}

// Done is closed once the listener has stopped, by Cancel or after a
// terminal error was delivered.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Stopped reports whether the listener accepts no more deliveries.
func (l *Listener) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped || l.failing
}

// Flush waits until every queued delivery has been handed to the callback
// and the callback has returned.
func (l *Listener) Flush(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		if !l.isIdle {
			l.isIdle = true
			close(l.idle)
		}
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *Listener) run() {
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		if len(l.queue) == 0 {
			if !l.isIdle {
				l.isIdle = true
				close(l.idle)
			}
			l.mu.Unlock()
			select {
			case <-l.signal:
			case <-l.done:
			}
			continue
		}
		d := l.queue[0]
		l.queue[0] = delivery{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.callMu.Lock()
		if !l.isStopped() {
			l.fn(d.snap, d.err)
		}
		l.callMu.Unlock()

		if d.err != nil {
			l.stop()
			return
		}
	}
}

func (l *Listener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}
