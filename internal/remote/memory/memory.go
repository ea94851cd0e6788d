// Package memory is an in-process remote.Store with live listeners.
//
// It backs tests, the scenario harness and the "memory" backend. Writes can
// be intercepted with a hook (to block or fail them), arbitrary snapshots can
// be injected into live subscriptions, and Flush waits for all queued
// deliveries.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

// Op names a write operation.
type Op string

const (
	OpSet    Op = "set"
	OpMerge  Op = "merge"
	OpDelete Op = "delete"
)

// Write records one attempted write.
type Write struct {
	Op   Op
	Path doc.Path
	Data doc.Map
	Err  error
}

// WriteHook runs before a write is applied, outside the store lock, so it
// may block. A non-nil error fails the write without applying it.
type WriteHook func(ctx context.Context, w Write) error

// ReadHook runs before Get and List. A non-nil error fails the read.
type ReadHook func(ctx context.Context, path doc.Path) error

// Option configures a Store.
type Option func(*Store)

// WithWriteHook installs a write hook at construction.
func WithWriteHook(h WriteHook) Option {
	return func(s *Store) { s.writeHook = h }
}

type collection struct {
	order []string
	docs  map[string]doc.Map
}

type subscriber struct {
	id       uint64
	path     doc.Path
	listener *remote.Listener
}

// Store is an in-memory remote.Store. Snapshots are in creation order.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	subs        map[uint64]*subscriber
	nextSub     uint64
	writes      []Write
	writeHook   WriteHook
	readHook    ReadHook
	closed      bool
}

var _ remote.Store = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]*collection),
		subs:        make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWriteHook replaces the write hook. nil removes it.
func (s *Store) SetWriteHook(h WriteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = h
}

// SetReadHook replaces the read hook. nil removes it.
func (s *Store) SetReadHook(h ReadHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readHook = h
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path doc.Path) (doc.Map, error) {
	if err := path.Validate(true); err != nil {
		return nil, err
	}
	if err := s.beforeRead(ctx, path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	c := s.collections[path.CollectionPath().String()]
	if c == nil {
		return nil, fmt.Errorf("get %s: %w", path, remote.ErrNotFound)
	}
	data, ok := c.docs[path.DocumentID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, remote.ErrNotFound)
	}
	return data.Clone(), nil
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path doc.Path, data doc.Map) error {
	return s.write(ctx, Write{Op: OpSet, Path: path, Data: data.Clone()})
}

// Merge implements remote.Store.
func (s *Store) Merge(ctx context.Context, path doc.Path, data doc.Map) error {
	return s.write(ctx, Write{Op: OpMerge, Path: path, Data: data.Clone()})
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, path doc.Path) error {
	return s.write(ctx, Write{Op: OpDelete, Path: path})
}

// List implements remote.Store.
func (s *Store) List(ctx context.Context, col doc.Path) (remote.Snapshot, error) {
	if err := col.Validate(false); err != nil {
		return nil, err
	}
	if err := s.beforeRead(ctx, col); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	return s.snapshotLocked(col), nil
}

// Subscribe implements remote.Store. The current contents are queued for
// delivery before Subscribe returns.
func (s *Store) Subscribe(col doc.Path, fn remote.SnapshotFunc) (remote.Subscription, error) {
	if err := col.Validate(false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}

	s.nextSub++
	sub := &subscriber{id: s.nextSub, path: col, listener: remote.NewListener(fn)}
	s.subs[sub.id] = sub
	sub.listener.Deliver(s.snapshotLocked(col))
	return &subscription{store: s, sub: sub}, nil
}

// Close implements remote.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[uint64]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.listener.Cancel()
	}
	return nil
}

// Inject delivers snap to every live subscription of col without touching
// the stored documents. Used to simulate stale or reordered deliveries.
func (s *Store) Inject(col doc.Path, snap remote.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.path == col {
			sub.listener.Deliver(snap.Clone())
		}
	}
}

// FailSubscriptions ends every live subscription of col with err.
func (s *Store) FailSubscriptions(col doc.Path, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.path == col {
			sub.listener.Fail(err)
		}
	}
}

// Flush waits until every queued delivery has been handed to its callback.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	listeners := make([]*remote.Listener, 0, len(s.subs))
	for _, sub := range s.subs {
		listeners = append(listeners, sub.listener)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		if err := l.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Writes returns every attempted write in order.
func (s *Store) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Subscribers returns the account ids of live subscriptions, one entry per
// subscription.
func (s *Store) Subscribers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for _, sub := range s.subs {
		if !sub.listener.Stopped() {
			out = append(out, sub.path.AccountID)
		}
	}
	return out
}

// Put stores a document without logging a write or running the hook.
// Subscribers are notified.
func (s *Store) Put(path doc.Path, data doc.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(Write{Op: OpSet, Path: path, Data: data.Clone()})
}

func (s *Store) beforeRead(ctx context.Context, path doc.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	hook := s.readHook
	s.mu.Unlock()
	if hook != nil {
		return hook(ctx, path)
	}
	return nil
}

func (s *Store) write(ctx context.Context, w Write) error {
	if err := w.Path.Validate(true); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	hook := s.writeHook
	s.mu.Unlock()

	var hookErr error
	if hook != nil {
		hookErr = hook(ctx, w)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return remote.ErrClosed
	}
	w.Err = hookErr
	s.writes = append(s.writes, w)
	if hookErr != nil {
		return fmt.Errorf("%s %s: %w", w.Op, w.Path, hookErr)
	}
	s.applyLocked(w)
	return nil
}

func (s *Store) applyLocked(w Write) {
	key := w.Path.CollectionPath().String()
	c := s.collections[key]
	if c == nil {
		c = &collection{docs: make(map[string]doc.Map)}
		s.collections[key] = c
	}

	id := w.Path.DocumentID
	existing, exists := c.docs[id]
	switch w.Op {
	case OpSet:
		c.docs[id] = w.Data.Clone()
	case OpMerge:
		c.docs[id] = remote.MergeFields(existing, w.Data)
	case OpDelete:
		if !exists {
			return
		}
		delete(c.docs, id)
		for i, oid := range c.order {
			if oid == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	if w.Op != OpDelete && !exists {
		c.order = append(c.order, id)
	}

	col := w.Path.CollectionPath()
	for _, sub := range s.subs {
		if sub.path == col {
			sub.listener.Deliver(s.snapshotLocked(col))
		}
	}
}

func (s *Store) snapshotLocked(col doc.Path) remote.Snapshot {
	c := s.collections[col.String()]
	snap := remote.Snapshot{}
	if c == nil {
		return snap
	}
	for _, id := range c.order {
		snap = append(snap, remote.Document{ID: id, Data: c.docs[id].Clone()})
	}
	return snap
}

type subscription struct {
	store *Store
	sub   *subscriber
}

func (s *subscription) Cancel() {
	s.store.mu.Lock()
	delete(s.store.subs, s.sub.id)
	s.store.mu.Unlock()
	s.sub.listener.Cancel()
}
