// Package session resolves the signed-in account that scopes every remote
// path. The core only reads the account id; it never inspects credentials.
package session

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Gate yields the current account id, or false when nobody is signed in.
type Gate interface {
	CurrentAccountID() (string, bool)
}

// Static is a Gate with a fixed account. The empty Static is signed out.
type Static string

// CurrentAccountID implements Gate.
func (s Static) CurrentAccountID() (string, bool) {
	return string(s), s != ""
}

// Session is a switchable Gate. Watchers are called synchronously, in
// registration order, after every change of account.
type Session struct {
	mu       sync.Mutex
	account  string
	watchers map[uint64]func(string)
	nextID   uint64
}

// New creates a signed-out session.
func New() *Session {
	return &Session{watchers: make(map[uint64]func(string))}
}

// CurrentAccountID implements Gate.
func (s *Session) CurrentAccountID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, s.account != ""
}

// SignIn switches to accountID. Signing in to the current account again
// does not notify watchers.
func (s *Session) SignIn(accountID string) {
	s.set(accountID)
}

// SignOut clears the account.
func (s *Session) SignOut() {
	s.set("")
}

func (s *Session) set(accountID string) {
	s.mu.Lock()
	if s.account == accountID {
		s.mu.Unlock()
		return
	}
	s.account = accountID
	fns := s.snapshotWatchersLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(accountID)
	}
}

func (s *Session) snapshotWatchersLocked() []func(string) {
	// registration order
	ids := slices.Sorted(maps.Keys(s.watchers))
	fns := make([]func(string), len(ids))
	for i, id := range ids {
		fns[i] = s.watchers[id]
	}
	return fns
}

// Watch registers fn for account changes; "" means signed out. The returned
// function unregisters it.
func (s *Session) Watch(fn func(accountID string)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Target is what Follow drives: the sync engine.
type Target interface {
	Attach(ctx context.Context, accountID string) error
	Detach(ctx context.Context) error
}

// Follow attaches target to the session's current account, then re-attaches
// on every sign-in or account switch and detaches on sign-out. When ctx ends
// it detaches and returns. Attach errors are passed to onErr when non-nil.
func Follow(ctx context.Context, s *Session, target Target, onErr func(error)) {
	report := func(err error) {
		if err != nil && onErr != nil {
			onErr(err)
		}
	}

	changes := make(chan string, 1)
	cancel := s.Watch(func(accountID string) {
		// Keep only the latest account; older pending changes are stale.
		select {
		case <-changes:
		default:
		}
		changes <- accountID
	})
	defer cancel()

	if id, ok := s.CurrentAccountID(); ok {
		report(target.Attach(ctx, id))
	}

	for {
		select {
		case <-ctx.Done():
			report(target.Detach(context.WithoutCancel(ctx)))
			return
		case id := <-changes:
			if id == "" {
				report(target.Detach(ctx))
			} else {
				report(target.Attach(ctx, id))
			}
		}
	}
}
