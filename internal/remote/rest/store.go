package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

// DefaultPollInterval is how often a subscription re-lists the projects.
const DefaultPollInterval = 5 * time.Second

// Fields the API adds to payloads that are not part of the documents.
var (
	projectAnnotations = []string{"taskCount", "completedCount"}
	taskAnnotations    = []string{"status", "projectId"}
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPollInterval sets the subscription poll interval.
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the logger used for subscription diagnostics.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store adapts Client to remote.Store. The API scopes every request by the
// bearer token, so the account id of a path is validated but not sent.
//
// Merge does not create absent projects: the API answers 404 and the
// write fails with remote.ErrNotFound.
type Store struct {
	client       *Client
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	subs   map[*poller]struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ remote.Store = (*Store)(nil)

// NewStore wraps a client.
func NewStore(client *Client, opts ...StoreOption) *Store {
	s := &Store{
		client:       client,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
		subs:         make(map[*poller]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying API client.
func (s *Store) Client() *Client {
	return s.client
}

func (s *Store) check(path doc.Path, wantDocument bool) error {
	if err := path.Validate(wantDocument); err != nil {
		return err
	}
	if path.Collection != doc.CollectionProjects {
		return fmt.Errorf("%w: the project API only serves %q, not %q", remote.ErrInvalidPath, doc.CollectionProjects, path.Collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return remote.ErrClosed
	}
	return nil
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path doc.Path) (doc.Map, error) {
	if err := s.check(path, true); err != nil {
		return nil, err
	}
	snap, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range snap {
		if d.ID == path.DocumentID {
			return d.Data, nil
		}
	}
	return nil, fmt.Errorf("get %s: %w", path, remote.ErrNotFound)
}

// Set implements remote.Store: the project is created, then each embedded
// task.
func (s *Store) Set(ctx context.Context, path doc.Path, data doc.Map) error {
	if err := s.check(path, true); err != nil {
		return err
	}
	project, tasks := splitProject(path.DocumentID, data)
	if _, err := s.client.CreateProject(ctx, project); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	for _, t := range tasks {
		if _, err := s.client.CreateTask(ctx, taskPayload(path.DocumentID, t)); err != nil {
			return fmt.Errorf("set %s: task %s: %w", path, idOf(t), err)
		}
	}
	return nil
}

// Merge implements remote.Store: the project fields are updated, then the
// task collection is reconciled against the embedded tasks when present.
func (s *Store) Merge(ctx context.Context, path doc.Path, data doc.Map) error {
	if err := s.check(path, true); err != nil {
		return err
	}
	project, tasks := splitProject(path.DocumentID, data)
	if _, err := s.client.UpdateProject(ctx, path.DocumentID, project); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	if _, ok := data["tasks"]; !ok {
		return nil
	}
	if err := s.reconcileTasks(ctx, path.DocumentID, tasks); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return nil
}

// Delete implements remote.Store. The API cascades to the project's tasks.
func (s *Store) Delete(ctx context.Context, path doc.Path) error {
	if err := s.check(path, true); err != nil {
		return err
	}
	err := s.client.DeleteProject(ctx, path.DocumentID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// List implements remote.Store. Projects keep server order; tasks are
// embedded in server order.
func (s *Store) List(ctx context.Context, col doc.Path) (remote.Snapshot, error) {
	if err := s.check(col, false); err != nil {
		return nil, err
	}
	return s.list(ctx)
}

func (s *Store) list(ctx context.Context) (remote.Snapshot, error) {
	projects, err := s.client.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	snap := make(remote.Snapshot, 0, len(projects))
	for _, p := range projects {
		id, _ := p["id"].(doc.String)
		if id == "" {
			s.logger.Debug("skipping project without id")
			continue
		}
		tasks, err := s.client.ListTasks(ctx, string(id))
		if err != nil {
			return nil, fmt.Errorf("list tasks of %s: %w", id, err)
		}
		snap = append(snap, remote.Document{ID: string(id), Data: embedTasks(p, tasks)})
	}
	return snap, nil
}

// Close implements remote.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pollers := make([]*poller, 0, len(s.subs))
	for p := range s.subs {
		pollers = append(pollers, p)
	}
	s.subs = make(map[*poller]struct{})
	s.mu.Unlock()

	for _, p := range pollers {
		p.Cancel()
	}
	s.wg.Wait()
	return nil
}

// splitProject separates the project fields from its embedded tasks.
func splitProject(id string, data doc.Map) (doc.Map, []doc.Map) {
	project := make(doc.Map, len(data))
	for k, v := range data {
		if k != "tasks" {
			project[k] = v
		}
	}
	project["id"] = doc.String(id)

	var tasks []doc.Map
	if arr, ok := data["tasks"].(doc.Array); ok {
		for _, elem := range arr {
			if t, ok := elem.(doc.Map); ok && idOf(t) != "" {
				tasks = append(tasks, t)
			}
		}
	}
	return project, tasks
}

// embedTasks turns API payloads back into one project document.
func embedTasks(project doc.Map, tasks []doc.Map) doc.Map {
	out := project.Clone()
	for _, k := range projectAnnotations {
		delete(out, k)
	}
	arr := make(doc.Array, 0, len(tasks))
	for _, t := range tasks {
		t = t.Clone()
		for _, k := range taskAnnotations {
			delete(t, k)
		}
		arr = append(arr, t)
	}
	out["tasks"] = arr
	return out
}

func taskPayload(projectID string, task doc.Map) doc.Map {
	out := task.Clone()
	out["projectId"] = doc.String(projectID)
	status := "todo"
	if done, _ := task["isCompleted"].(doc.Bool); done {
		status = "done"
	}
	out["status"] = doc.String(status)
	return out
}

// idOf returns the "id" field of a task or comment payload.
func idOf(m doc.Map) string {
	id, _ := m["id"].(doc.String)
	return string(id)
}
