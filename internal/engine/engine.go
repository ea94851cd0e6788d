package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/remote"
	"github.com/roach88/tasksync/internal/session"
)

// State is one publication of the engine: the project list and error slot
// as of the last loop step that changed them.
type State struct {
	// Account is the attached account, "" when detached.
	Account string

	// Projects is the published list in snapshot order with pending
	// optimistic writes applied.
	Projects []model.Project

	// Err is the error slot: the most recent recorded failure.
	Err error

	// Stalled is set when the subscription ended with an error. Nothing
	// retries; callers Detach and Attach again.
	Stalled bool

	// Synced is set once a snapshot has been applied since the last attach.
	Synced bool

	// Pending counts projects with an unacknowledged write.
	Pending int
}

func (s State) clone() State {
	s.Projects = model.CloneProjects(s.Projects)
	return s
}

// Engine is the single-writer sync engine.
//
// One goroutine (Run) owns the published list, the pending-write overlay
// and the error slot. Backend deliveries, mutations and lifecycle calls are
// enqueued onto an unbounded FIFO queue and applied there in order.
//
// Thread-safety model:
//   - Attach, Detach, Refresh and every mutation: safe from any goroutine;
//     they block until the loop has handled them
//   - Current, Err, State: lock-free reads of the last publication
//   - Run: must be called from exactly one goroutine
type Engine struct {
	store    remote.Store
	gate     session.Gate
	clock    *Clock
	queue    *eventQueue
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
	rollback bool

	running   atomic.Bool
	stopped   chan struct{}
	published atomic.Pointer[State]

	obsMu     sync.Mutex
	observers []observer // registration order
	nextObs   uint64

	// Owned by the Run goroutine.
	account     string
	generation  uint64
	sub         remote.Subscription
	projects    []model.Project
	pending     map[string]*pendingWrite
	lastErr     error
	stalled     bool
	synced      bool
	syncWaiters []chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRollbackOnFailure restores a project's prior value when its latest
// write fails. Default: false, the optimistic value stays and only the error
// slot is set.
func WithRollbackOnFailure(on bool) Option {
	return func(e *Engine) { e.rollback = on }
}

// WithIDGenerator sets the generator for ids assigned to new entities.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithNow sets the wall clock used for CreatedAt stamps. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithClock sets the logical clock used for pending-write sequence numbers.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// New creates an engine over store. gate is consulted on every mutation for
// the account that scopes the write; nil means nobody is ever signed in.
func New(store remote.Store, gate session.Gate, opts ...Option) *Engine {
	if gate == nil {
		gate = session.Static("")
	}
	e := &Engine{
		store:    store,
		gate:     gate,
		clock:    NewClock(),
		queue:    newEventQueue(),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
		stopped:  make(chan struct{}),
		projects: []model.Project{},
		pending:  make(map[string]*pendingWrite),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.published.Store(&State{Projects: []model.Project{}})
	return e
}

// Run starts the single-writer event loop. It blocks until ctx is cancelled
// or Stop is called, then cancels the active subscription and returns.
//
// Events still queued when ctx is cancelled are dropped; after Stop they are
// drained first.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: Run called twice")
	}
	e.logger.Info("engine starting")
	defer func() {
		e.teardownSubscription()
		close(e.stopped)
	}()

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once Stop has been called.
			if e.queue.Drained() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run drains what is already queued and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

func (e *Engine) process(ev Event) {
	switch ev.Type {
	case EventTypeSnapshot:
		e.applySnapshot(ev.Generation, ev.Snapshot)
	case EventTypeSubscriptionError:
		e.subscriptionFailed(ev.Generation, ev.Err)
	case EventTypeCommand:
		ev.Command()
	default:
		e.logger.Error("unknown event type", "type", ev.Type)
	}
}

// do runs fn on the loop and waits for it. It does not watch a context: once
// enqueued, fn always runs unless the loop exits first.
func (e *Engine) do(fn func()) error {
	done := make(chan struct{})
	ok := e.queue.Enqueue(Event{Type: EventTypeCommand, Command: func() {
		defer close(done)
		fn()
	}})
	if !ok {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Attach subscribes to accountID's projects. Attaching the account that is
// already attached does nothing. A different account tears the old
// subscription down and clears the list, the pending writes and the error
// slot before the new subscription is registered. An empty accountID is a
// silent no-op.
func (e *Engine) Attach(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if derr := e.do(func() { err = e.attach(accountID) }); derr != nil {
		return derr
	}
	return err
}

// Detach cancels the active subscription, if any, and clears the published
// state.
func (e *Engine) Detach(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.do(e.detach)
}

func (e *Engine) attach(accountID string) error {
	if e.account == accountID && e.sub != nil {
		return nil
	}

	e.teardownSubscription()
	e.generation++
	e.account = accountID
	e.reset()

	gen := e.generation
	sub, err := e.store.Subscribe(doc.ProjectsPath(accountID), func(snap remote.Snapshot, err error) {
		if err != nil {
			e.queue.Enqueue(Event{Type: EventTypeSubscriptionError, Generation: gen, Err: err})
			return
		}
		e.queue.Enqueue(Event{Type: EventTypeSnapshot, Generation: gen, Snapshot: snap})
	})
	if err != nil {
		serr := remoteError(ErrCodeRemoteRead, "subscribe", "", "", err)
		e.logger.Warn("subscribe failed", "account", accountID, "error", err)
		e.lastErr = serr
		e.stalled = true
		e.releaseSyncWaiters()
		e.publish()
		return serr
	}

	e.sub = sub
	e.logger.Info("attached", "account", accountID, "generation", gen)
	e.publish()
	return nil
}

func (e *Engine) detach() {
	hadAccount := e.account != ""
	e.teardownSubscription()
	e.generation++
	e.account = ""
	e.reset()
	if hadAccount {
		e.logger.Info("detached", "generation", e.generation)
	}
	e.publish()
}

// teardownSubscription cancels the active subscription. Cancel waits for an
// in-flight callback, which only enqueues, so calling it from the loop is safe.
func (e *Engine) teardownSubscription() {
	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
}

func (e *Engine) reset() {
	e.projects = []model.Project{}
	e.pending = make(map[string]*pendingWrite)
	e.lastErr = nil
	e.stalled = false
	e.synced = false
}

func (e *Engine) applySnapshot(gen uint64, snap remote.Snapshot) {
	if gen != e.generation {
		e.logger.Debug("discarding stale snapshot", "generation", gen, "current", e.generation)
		return
	}

	projects, errs := codec.DecodeProjects(snap)
	for _, err := range errs {
		e.logger.Warn("dropping undecodable document", "account", e.account, "error", err)
	}

	e.projects = e.overlay(projects)
	e.synced = true
	e.releaseSyncWaiters()
	e.logger.Debug("snapshot applied",
		"account", e.account,
		"documents", len(snap),
		"projects", len(e.projects),
		"pending", len(e.pending),
	)
	e.publish()
}

func (e *Engine) subscriptionFailed(gen uint64, err error) {
	if gen != e.generation {
		return
	}
	e.logger.Warn("subscription failed", "account", e.account, "error", err)
	e.lastErr = remoteError(ErrCodeRemoteRead, "subscribe", "", "", err)
	e.stalled = true
	e.releaseSyncWaiters()
	e.publish()
}

func (e *Engine) releaseSyncWaiters() {
	for _, ch := range e.syncWaiters {
		close(ch)
	}
	e.syncWaiters = nil
}

// record stores err in the error slot and publishes.
func (e *Engine) record(err error) {
	e.lastErr = err
	e.publish()
}

type observer struct {
	id uint64
	fn func(State)
}

func (e *Engine) publish() {
	st := &State{
		Account:  e.account,
		Projects: model.CloneProjects(e.projects),
		Err:      e.lastErr,
		Stalled:  e.stalled,
		Synced:   e.synced,
		Pending:  len(e.pending),
	}
	e.published.Store(st)

	e.obsMu.Lock()
	obs := slices.Clone(e.observers)
	e.obsMu.Unlock()

	if len(obs) == 0 {
		return
	}
	view := st.clone()
	for _, o := range obs {
		o.fn(view)
	}
}

// Current returns a copy of the published project list.
func (e *Engine) Current() []model.Project {
	return model.CloneProjects(e.published.Load().Projects)
}

// Err returns the error slot.
func (e *Engine) Err() error {
	return e.published.Load().Err
}

// State returns a copy of the last publication.
func (e *Engine) State() State {
	return e.published.Load().clone()
}

// Observe registers fn to run on the loop after every publication, in
// registration order. fn must not block and must not call back into the
// engine's blocking operations. The returned function unregisters it.
func (e *Engine) Observe(fn func(State)) (cancel func()) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.nextObs++
	id := e.nextObs
	e.observers = append(e.observers, observer{id: id, fn: fn})
	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		e.observers = slices.DeleteFunc(e.observers, func(o observer) bool { return o.id == id })
	}
}

// Settle waits until every event enqueued before the call has been
// processed.
func (e *Engine) Settle(ctx context.Context) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(Event{Type: EventTypeCommand, Command: func() { close(done) }}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// WaitSynced waits until a snapshot has been applied since the last attach.
// If the subscription fails first, it returns the recorded error.
func (e *Engine) WaitSynced(ctx context.Context) error {
	ch := make(chan struct{})
	err := e.do(func() {
		if e.synced || e.stalled {
			close(ch)
			return
		}
		e.syncWaiters = append(e.syncWaiters, ch)
	})
	if err != nil {
		return err
	}

	select {
	case <-ch:
		if st := e.published.Load(); st.Stalled {
			return st.Err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// Refresh reads the collection once and applies it like a snapshot. It is
// the fetch-on-demand alternative to a live subscription: when nothing is
// attached it adopts the gate's account without subscribing. Failures are
// recorded as REMOTE_READ.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		account string
		gen     uint64
		planErr error
	)
	err := e.do(func() {
		if e.account == "" {
			id, ok := e.gate.CurrentAccountID()
			if !ok {
				planErr = notSignedIn("refresh")
				e.record(planErr)
				return
			}
			e.generation++
			e.account = id
			e.reset()
		}
		account, gen = e.account, e.generation
	})
	if err != nil {
		return err
	}
	if planErr != nil {
		return planErr
	}

	snap, listErr := e.store.List(ctx, doc.ProjectsPath(account))

	var result error
	err = e.do(func() {
		if gen != e.generation {
			return
		}
		if listErr != nil {
			e.logger.Warn("refresh failed", "account", account, "error", listErr)
			result = remoteError(ErrCodeRemoteRead, "refresh", "", "", listErr)
			e.record(result)
			return
		}
		e.applySnapshot(gen, snap)
	})
	if err != nil {
		return err
	}
	return result
}
