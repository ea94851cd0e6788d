package mongo

import (
	"context"
	"fmt"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

type watcher struct {
	store    *Store
	col      doc.Path
	listener *remote.Listener
	cancel   context.CancelFunc
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
	w := &watcher{store: s, col: col, listener: remote.NewListener(fn), cancel: cancel}
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

func (w *watcher) run(ctx context.Context) {
	defer w.store.wg.Done()

	// Open the stream before the initial list so no change falls between.
	stream, err := w.store.coll.Watch(ctx, prefixFilter(w.col))
	if err != nil {
		w.fail(ctx, fmt.Errorf("subscribe %s: %w: %v", w.col, remote.ErrUnavailable, err))
		return
	}
	defer stream.Close(context.Background())

	var lastRev string
	emit := func() bool {
		snap, err := w.store.List(ctx, w.col)
		if err != nil {
			w.fail(ctx, fmt.Errorf("subscribe %s: %w: %v", w.col, remote.ErrUnavailable, err))
			return false
		}
		rev, err := snap.Revision()
		if err != nil {
			w.fail(ctx, fmt.Errorf("subscribe %s: %w", w.col, err))
			return false
		}
		if rev != lastRev {
			lastRev = rev
			w.listener.Deliver(snap)
		}
		return true
	}

	if !emit() {
		return
	}
	for stream.Next(ctx) {
		if !emit() {
			return
		}
	}
	if err := stream.Err(); err != nil {
		w.fail(ctx, fmt.Errorf("subscribe %s: %w: %v", w.col, remote.ErrUnavailable, err))
	}
}

// fail reports a terminal error unless the subscription was cancelled.
func (w *watcher) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	w.store.logger.Warn("subscription ended", "collection", w.col.String(), "error", err)
	w.listener.Fail(err)
}
