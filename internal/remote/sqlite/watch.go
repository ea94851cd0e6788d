package sqlite

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

// watcher is one live subscription: a goroutine that re-reads the
// collection whenever its version changes.
type watcher struct {
	store    *Store
	col      doc.Path
	listener *remote.Listener
	wakeCh   chan struct{} // buffered, size 1
	cancel   context.CancelFunc
	version  atomic.Int64 // last version handed to the listener
}

// Subscribe implements remote.Store.
func (s *Store) Subscribe(col doc.Path, fn remote.SnapshotFunc) (remote.Subscription, error) {
	if err := col.Validate(false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		store:    s,
		col:      col,
		listener: remote.NewListener(fn),
		wakeCh:   make(chan struct{}, 1),
		cancel:   cancel,
	}
	w.version.Store(-1)
	s.subs[w] = struct{}{}
	s.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

// Cancel implements remote.Subscription.
func (w *watcher) Cancel() {
	w.cancel()
	w.listener.Cancel()
	w.store.mu.Lock()
	delete(w.store.subs, w)
	w.store.mu.Unlock()
}

func (s *Store) wake(col doc.Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.subs {
		if w.col == col {
			select {
			case w.wakeCh <- struct{}{}:
			default:
			}
		}
	}
}

func (w *watcher) run(ctx context.Context) {
	defer w.store.wg.Done()

	ticker := time.NewTicker(w.store.pollInterval)
	defer ticker.Stop()

	for {
		version, snap, err := w.store.read(ctx, w.col)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.store.logger.Warn("subscription read failed", "collection", w.col.String(), "error", err)
			w.listener.Fail(fmt.Errorf("subscribe %s: %w: %v", w.col, remote.ErrUnavailable, err))
			return
		}
		if version != w.version.Load() {
			w.listener.Deliver(snap)
			w.version.Store(version)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.listener.Done():
			return
		case <-w.wakeCh:
		case <-ticker.C:
		}
	}
}

// Flush waits until every live subscription has observed the latest
// committed version and handed it to its callback.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	watchers := make([]*watcher, 0, len(s.subs))
	for w := range s.subs {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		for {
			version, _, err := s.read(ctx, w.col)
			if err != nil {
				return err
			}
			if w.version.Load() >= version || w.listener.Stopped() {
				if err := w.listener.Flush(ctx); err != nil {
					return err
				}
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	return nil
}
