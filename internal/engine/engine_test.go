package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/remote"
	"github.com/roach88/tasksync/internal/remote/memory"
	"github.com/roach88/tasksync/internal/session"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *Engine
	store   *memory.Store
	session *session.Session
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture starts an engine over an empty memory store with "u1" signed in.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.New()
	sess := session.New()
	sess.SignIn("u1")

	base := []Option{
		WithLogger(discardLogger()),
		WithNow(func() time.Time { return testNow }),
		WithIDGenerator(NewFixedGenerator("id-1", "id-2", "id-3", "id-4", "id-5")),
	}
	e := New(store, sess, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		store.Close()
	})
	return &fixture{engine: e, store: store, session: sess}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// sync waits until every delivery queued by the store has been applied.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	ctx := testCtx(t)
	require.NoError(t, f.store.Flush(ctx))
	require.NoError(t, f.engine.Settle(ctx))
}

func (f *fixture) attach(t *testing.T, account string) {
	t.Helper()
	ctx := testCtx(t)
	require.NoError(t, f.engine.Attach(ctx, account))
	require.NoError(t, f.engine.WaitSynced(ctx))
}

func newProject(id, title string) model.Project {
	return model.Project{
		ID:        id,
		Title:     title,
		CreatedAt: testNow,
		Status:    model.StatusNotStarted,
		Tasks:     []model.ProjectTask{},
		OwnerID:   "u1",
	}
}

func (f *fixture) put(account string, p model.Project) {
	f.store.Put(doc.ProjectPath(account, p.ID), codec.EncodeProject(p))
}

func titles(projects []model.Project) []string {
	out := make([]string, len(projects))
	for i, p := range projects {
		out[i] = p.Title
	}
	return out
}

func TestEngine_New(t *testing.T) {
	e := New(memory.New(), nil)

	assert.NotNil(t, e.clock)
	assert.NotNil(t, e.queue)
	assert.Empty(t, e.Current())
	assert.NoError(t, e.Err())
	assert.Equal(t, "", e.State().Account)
}

func TestEngine_AttachAppliesInitialSnapshot(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Launch"))

	f.attach(t, "u1")

	st := f.engine.State()
	assert.Equal(t, "u1", st.Account)
	assert.True(t, st.Synced)
	assert.False(t, st.Stalled)
	require.Len(t, st.Projects, 1)
	assert.Equal(t, newProject("p1", "Launch"), st.Projects[0])
}

func TestEngine_AttachEmptyAccountIsNoop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Attach(testCtx(t), ""))
	f.sync(t)

	assert.Empty(t, f.store.Subscribers())
	assert.Equal(t, "", f.engine.State().Account)
}

func TestEngine_AttachSameAccountIsIdempotent(t *testing.T) {
	f := newFixture(t)

	f.attach(t, "u1")
	require.NoError(t, f.engine.Attach(testCtx(t), "u1"))
	f.sync(t)

	assert.Equal(t, []string{"u1"}, f.store.Subscribers())
}

func TestEngine_AttachSwitchKeepsOneSubscription(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Alpha"))
	f.put("u2", newProject("p2", "Beta"))

	f.attach(t, "u1")
	assert.Equal(t, []string{"Alpha"}, titles(f.engine.Current()))

	f.attach(t, "u2")
	assert.Equal(t, []string{"u2"}, f.store.Subscribers())
	assert.Equal(t, []string{"Beta"}, titles(f.engine.Current()))

	// Changes to the old account reach nobody.
	f.put("u1", newProject("p3", "Gamma"))
	f.sync(t)
	assert.Equal(t, []string{"Beta"}, titles(f.engine.Current()))
}

func TestEngine_StaleGenerationSnapshotIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Alpha"))
	f.put("u2", newProject("p2", "Beta"))

	f.attach(t, "u1") // generation 1
	f.attach(t, "u2") // generation 2

	// A delivery from the first subscription that was already in flight
	// when the switch happened.
	stale := remote.Snapshot{{ID: "p1", Data: codec.EncodeProject(newProject("p1", "Alpha"))}}
	require.True(t, f.engine.queue.Enqueue(Event{Type: EventTypeSnapshot, Generation: 1, Snapshot: stale}))
	require.True(t, f.engine.queue.Enqueue(Event{Type: EventTypeSubscriptionError, Generation: 1, Err: remote.ErrUnavailable}))
	f.sync(t)

	st := f.engine.State()
	assert.Equal(t, []string{"Beta"}, titles(st.Projects))
	assert.False(t, st.Stalled)
	assert.NoError(t, st.Err)
}

func TestEngine_SwitchClearsPendingAndErrors(t *testing.T) {
	f := newFixture(t)
	f.attach(t, "u1")

	f.session.SignOut()
	_, err := f.engine.CreateProject(testCtx(t), model.Project{Title: "x"})
	require.True(t, IsNotSignedIn(err))
	require.Error(t, f.engine.Err())

	f.attach(t, "u2")
	assert.NoError(t, f.engine.Err())
	assert.Empty(t, f.engine.Current())
	assert.Equal(t, 0, f.engine.State().Pending)
}

func TestEngine_Detach(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Launch"))
	f.attach(t, "u1")

	require.NoError(t, f.engine.Detach(testCtx(t)))

	st := f.engine.State()
	assert.Empty(t, st.Projects)
	assert.Equal(t, "", st.Account)
	assert.False(t, st.Synced)
	assert.Empty(t, f.store.Subscribers())

	// Safe with nothing attached.
	require.NoError(t, f.engine.Detach(testCtx(t)))
}

func TestEngine_DetachThenAttachRecoversStall(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Launch"))
	f.attach(t, "u1")

	f.store.FailSubscriptions(doc.ProjectsPath("u1"), fmt.Errorf("listen: %w", remote.ErrUnavailable))
	f.sync(t)

	st := f.engine.State()
	assert.True(t, st.Stalled)
	assert.True(t, IsRemoteRead(st.Err))
	assert.ErrorIs(t, st.Err, remote.ErrUnavailable)
	assert.Equal(t, []string{"Launch"}, titles(st.Projects), "list keeps its last value while stalled")

	// Same-account attach is a no-op while the stalled handle is held.
	require.NoError(t, f.engine.Attach(testCtx(t), "u1"))
	assert.True(t, f.engine.State().Stalled)

	require.NoError(t, f.engine.Detach(testCtx(t)))
	f.attach(t, "u1")

	st = f.engine.State()
	assert.False(t, st.Stalled)
	assert.NoError(t, st.Err)
	assert.Equal(t, []string{"Launch"}, titles(st.Projects))
}

func TestEngine_SubscriptionErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"unavailable", remote.ErrUnavailable, IsRemoteRead},
		{"forbidden", fmt.Errorf("GET /projects: %w", remote.ErrAuthorization), IsAuthorization},
		{"malformed", fmt.Errorf("list: %w", remote.ErrMalformed), IsDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.attach(t, "u1")

			f.store.FailSubscriptions(doc.ProjectsPath("u1"), tt.err)
			f.sync(t)

			assert.True(t, tt.check(f.engine.Err()), "got %v", f.engine.Err())
		})
	}
}

func TestEngine_SubscribeFailureStalls(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	err := f.engine.Attach(testCtx(t), "u1")
	require.Error(t, err)
	assert.True(t, IsRemoteRead(err))
	assert.ErrorIs(t, err, remote.ErrClosed)

	st := f.engine.State()
	assert.True(t, st.Stalled)
	assert.Equal(t, err, st.Err)

	// WaitSynced does not hang on a stalled engine.
	assert.Equal(t, err, f.engine.WaitSynced(testCtx(t)))
}

func TestEngine_SnapshotIsFullReplaceInSnapshotOrder(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "One"))
	f.put("u1", newProject("p2", "Two"))
	f.attach(t, "u1")
	require.Equal(t, []string{"One", "Two"}, titles(f.engine.Current()))

	f.store.Inject(doc.ProjectsPath("u1"), remote.Snapshot{
		{ID: "p3", Data: codec.EncodeProject(newProject("p3", "Three"))},
		{ID: "p1", Data: codec.EncodeProject(newProject("p1", "One"))},
	})
	f.sync(t)

	assert.Equal(t, []string{"Three", "One"}, titles(f.engine.Current()))
}

func TestEngine_UndecodableDocumentsAreDropped(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Good"))
	f.store.Put(doc.ProjectPath("u1", "bad"), doc.Map{"id": doc.String("bad")}) // no title
	f.store.Put(doc.ProjectPath("u1", "worse"), doc.Map{"title": doc.Int(7)})
	f.put("u1", newProject("p2", "Also good"))

	f.attach(t, "u1")

	st := f.engine.State()
	assert.Equal(t, []string{"Good", "Also good"}, titles(st.Projects))
	assert.NoError(t, st.Err, "document-level decode failures never reach the error slot")
}

func TestEngine_Observe(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []int
	cancel := f.engine.Observe(func(st State) {
		mu.Lock()
		seen = append(seen, len(st.Projects))
		mu.Unlock()
	})

	f.put("u1", newProject("p1", "Launch"))
	f.attach(t, "u1") // attach publication, then the first snapshot

	cancel()
	f.put("u1", newProject("p2", "Later"))
	f.sync(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1}, seen)
}

func TestEngine_ObserveOrderAfterCancel(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var calls []string
	watch := func(name string) func() {
		return f.engine.Observe(func(State) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		})
	}
	watch("a")
	cancelB := watch("b")
	watch("c")
	cancelB()
	cancelB() // second cancel is a no-op
	watch("d")

	f.attach(t, "u1")

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.Equal(t, []string{"a", "c", "d"}, calls[:3])
	assert.NotContains(t, calls, "b")
}

func TestEngine_CurrentIsACopy(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Launch"))
	f.attach(t, "u1")

	got := f.engine.Current()
	got[0].Title = "mutated"

	assert.Equal(t, "Launch", f.engine.Current()[0].Title)
}

func TestEngine_Refresh(t *testing.T) {
	f := newFixture(t)
	f.put("u1", newProject("p1", "Launch"))

	// Fetch-on-demand: no subscription is registered.
	require.NoError(t, f.engine.Refresh(testCtx(t)))
	assert.Empty(t, f.store.Subscribers())

	st := f.engine.State()
	assert.Equal(t, "u1", st.Account)
	assert.True(t, st.Synced)
	assert.Equal(t, []string{"Launch"}, titles(st.Projects))
}

func TestEngine_RefreshFailure(t *testing.T) {
	f := newFixture(t)
	f.store.SetReadHook(func(context.Context, doc.Path) error {
		return fmt.Errorf("list: %w", remote.ErrUnavailable)
	})

	err := f.engine.Refresh(testCtx(t))
	require.Error(t, err)
	assert.True(t, IsRemoteRead(err))
	assert.Equal(t, err, f.engine.Err())
	assert.False(t, f.engine.State().Stalled)
}

func TestEngine_RefreshNotSignedIn(t *testing.T) {
	f := newFixture(t)
	f.session.SignOut()

	err := f.engine.Refresh(testCtx(t))
	assert.True(t, IsNotSignedIn(err))
}

func TestEngine_Stop(t *testing.T) {
	store := memory.New()
	e := New(store, session.Static("u1"), WithLogger(discardLogger()))

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.NoError(t, e.Attach(testCtx(t), "u1"))
	require.NoError(t, e.WaitSynced(testCtx(t)))
	e.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.Empty(t, store.Subscribers(), "Run cancels the subscription on exit")
	assert.ErrorIs(t, e.Attach(testCtx(t), "u2"), ErrStopped)
	assert.ErrorIs(t, e.Settle(testCtx(t)), ErrStopped)
}

func TestEngine_RunTwice(t *testing.T) {
	e := New(memory.New(), nil, WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.Settle(testCtx(t)))
	assert.Error(t, e.Run(ctx))

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}
