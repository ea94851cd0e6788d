package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

// poller re-lists the projects at an interval and delivers a snapshot
// whenever its revision changes. The first poll always delivers.
type poller struct {
	store    *Store
	listener *remote.Listener
	cancel   context.CancelFunc
}

// Subscribe implements remote.Store. The API has no push channel, so the
// subscription polls. A failed poll ends the subscription.
func (s *Store) Subscribe(col doc.Path, fn remote.SnapshotFunc) (remote.Subscription, error) {
	if err := s.check(col, false); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{store: s, listener: remote.NewListener(fn), cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, remote.ErrClosed
	}
	s.subs[p] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go p.run(ctx)
	return p, nil
}

// Cancel implements remote.Subscription.
func (p *poller) Cancel() {
	p.cancel()
	p.listener.Cancel()
	p.store.mu.Lock()
	delete(p.store.subs, p)
	p.store.mu.Unlock()
}

func (p *poller) run(ctx context.Context) {
	defer p.store.wg.Done()

	ticker := time.NewTicker(p.store.pollInterval)
	defer ticker.Stop()

	var lastRev string
	first := true
	for {
		snap, err := p.store.list(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.store.logger.Warn("poll failed", "error", err)
			p.listener.Fail(fmt.Errorf("poll projects: %w", err))
			return
		}
		rev, err := snap.Revision()
		if err != nil {
			p.listener.Fail(fmt.Errorf("poll projects: %w", err))
			return
		}
		if first || rev != lastRev {
			first = false
			lastRev = rev
			p.listener.Deliver(snap)
		}

		select {
		case <-ctx.Done():
			return
		case <-p.listener.Done():
			return
		case <-ticker.C:
		}
	}
}
