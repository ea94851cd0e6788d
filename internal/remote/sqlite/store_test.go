package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

// setupTestStore opens a fresh database in a temp dir.
func setupTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasksync.db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

type collector struct {
	mu    sync.Mutex
	snaps []remote.Snapshot
	errs  []error
}

func (c *collector) fn(snap remote.Snapshot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errs = append(c.errs, err)
		return
	}
	c.snaps = append(c.snaps, snap)
}

func (c *collector) lastIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return nil
	}
	last := c.snaps[len(c.snaps)-1]
	out := make([]string, len(last))
	for i, d := range last {
		out[i] = d.ID
	}
	return out
}

func TestOpenAppliesPragmas(t *testing.T) {
	s, _ := setupTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("synchronous", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tasksync.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(context.Background(), doc.ProjectPath("u1", "p1"), doc.Map{"id": doc.String("p1")}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), doc.ProjectPath("u1", "p1"))
	require.NoError(t, err)
	assert.Equal(t, doc.String("p1"), got["id"])
}

func TestSetGetMergeDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	path := doc.ProjectPath("u1", "p1")

	_, err := s.Get(ctx, path)
	require.ErrorIs(t, err, remote.ErrNotFound)

	require.NoError(t, s.Set(ctx, path, doc.Map{
		"id":    doc.String("p1"),
		"title": doc.String("A"),
		"tasks": doc.Array{doc.Map{"id": doc.String("t1"), "isCompleted": doc.Bool(false)}},
	}))
	require.NoError(t, s.Merge(ctx, path, doc.Map{"title": doc.String("B")}))

	got, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, doc.String("B"), got["title"])
	assert.Len(t, got["tasks"], 1, "merge keeps fields not named in the patch")

	require.NoError(t, s.Merge(ctx, doc.ProjectPath("u1", "p2"), doc.Map{"id": doc.String("p2")}), "merge creates absent documents")

	require.NoError(t, s.Delete(ctx, path))
	require.NoError(t, s.Delete(ctx, path))
	_, err = s.Get(ctx, path)
	require.ErrorIs(t, err, remote.ErrNotFound)
}

func TestListCreationOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	for _, id := range []string{"p3", "p1", "p2"} {
		require.NoError(t, s.Set(ctx, doc.ProjectPath("u1", id), doc.Map{"id": doc.String(id)}))
	}
	require.NoError(t, s.Set(ctx, doc.ProjectPath("u1", "p3"), doc.Map{"id": doc.String("p3"), "title": doc.String("again")}))
	require.NoError(t, s.Set(ctx, doc.ProjectPath("u2", "x"), doc.Map{"id": doc.String("x")}))

	snap, err := s.List(ctx, doc.ProjectsPath("u1"))
	require.NoError(t, err)
	require.Len(t, snap, 3)
	assert.Equal(t, "p3", snap[0].ID, "overwriting keeps the original position")
	assert.Equal(t, "p1", snap[1].ID)
	assert.Equal(t, "p2", snap[2].ID)
}

func TestStoredFormIsCanonical(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	data := doc.Map{"title": doc.String("<A>"), "id": doc.String("p1")}

	require.NoError(t, s.Set(ctx, doc.ProjectPath("u1", "p1"), data))

	var raw, rev string
	require.NoError(t, s.db.QueryRow(`SELECT data, revision FROM documents WHERE path = ?`, "accounts/u1/projects/p1").Scan(&raw, &rev))
	assert.Equal(t, `{"id":"p1","title":"<A>"}`, raw)
	assert.Equal(t, doc.MustRevision(data), rev)
}

func TestSubscribeReceivesLocalWrites(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t, WithPollInterval(time.Hour))
	col := doc.ProjectsPath("u1")
	c := &collector{}

	sub, err := s.Subscribe(col, c.fn)
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, []string{}, c.lastIDs())

	require.NoError(t, s.Set(ctx, col.Doc("p1"), doc.Map{"id": doc.String("p1")}))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, []string{"p1"}, c.lastIDs())

	require.NoError(t, s.Delete(ctx, col.Doc("missing")))
	require.NoError(t, s.Flush(ctx))
	c.mu.Lock()
	count := len(c.snaps)
	c.mu.Unlock()
	assert.Equal(t, 2, count, "a delete that changes nothing does not produce a snapshot")
}

func TestSubscribeObservesOtherProcess(t *testing.T) {
	ctx := context.Background()
	reader, path := setupTestStore(t, WithPollInterval(10*time.Millisecond))
	writer, err := Open(path)
	require.NoError(t, err)
	defer writer.Close()

	c := &collector{}
	sub, err := reader.Subscribe(doc.ProjectsPath("u1"), c.fn)
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, writer.Set(ctx, doc.ProjectPath("u1", "p1"), doc.Map{"id": doc.String("p1")}))

	assert.Eventually(t, func() bool {
		ids := c.lastIDs()
		return len(ids) == 1 && ids[0] == "p1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelStopsDeliveries(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	col := doc.ProjectsPath("u1")
	c := &collector{}

	sub, err := s.Subscribe(col, c.fn)
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))

	sub.Cancel()
	sub.Cancel()

	require.NoError(t, s.Set(ctx, col.Doc("p1"), doc.Map{"id": doc.String("p1")}))
	require.NoError(t, s.Flush(ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.snaps, 1)
}

func TestClose(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.Subscribe(doc.ProjectsPath("u1"), func(remote.Snapshot, error) {})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.List(context.Background(), doc.ProjectsPath("u1"))
	require.ErrorIs(t, err, remote.ErrClosed)
	_, err = s.Subscribe(doc.ProjectsPath("u1"), func(remote.Snapshot, error) {})
	require.ErrorIs(t, err, remote.ErrClosed)
}

func TestInvalidPath(t *testing.T) {
	s, _ := setupTestStore(t)

	err := s.Set(context.Background(), doc.ProjectsPath("u1"), doc.Map{})
	require.ErrorIs(t, err, remote.ErrInvalidPath)
}
