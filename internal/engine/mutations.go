package engine

import (
	"context"
	"slices"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/model"
)

// mutation is a staged write: computed and published on the loop, then sent
// to the store from the caller's goroutine.
type mutation struct {
	op        string
	projectID string
	taskID    string
	kind      writeKind
	path      doc.Path
	data      doc.Map
	seq       int64
}

// planFunc computes and stages a mutation on the loop. It returns a
// SyncError, which mutate records, when nothing should be written.
type planFunc func(account string) (*mutation, *SyncError)

// mutate runs the optimistic-write sequence: plan and publish on the loop,
// write remotely off the loop, record the outcome on the loop. The engine
// must be attached to the gate's current account; a detached engine or one
// still attached to a previous account rejects the mutation.
func (e *Engine) mutate(ctx context.Context, op string, plan planFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		m       *mutation
		planErr *SyncError
	)
	err := e.do(func() {
		account, ok := e.gate.CurrentAccountID()
		switch {
		case !ok:
			planErr = notSignedIn(op)
		case account != e.account:
			// The list belongs to e.account; writing it under another
			// account's path would cross accounts.
			planErr = accountMismatch(op, account, e.account)
		default:
			m, planErr = plan(account)
		}
		if planErr != nil {
			e.logger.Debug("mutation rejected", "op", op, "error", planErr)
			e.record(planErr)
			return
		}
		e.publish()
	})
	if err != nil {
		return err
	}
	if planErr != nil {
		return planErr
	}

	writeErr := e.write(ctx, m)

	var result error
	if err := e.do(func() { result = e.acknowledge(m, writeErr) }); err != nil {
		return err
	}
	return result
}

func (e *Engine) write(ctx context.Context, m *mutation) error {
	switch m.kind {
	case writeSet:
		return e.store.Set(ctx, m.path, m.data)
	case writeMerge:
		return e.store.Merge(ctx, m.path, m.data)
	default:
		return e.store.Delete(ctx, m.path)
	}
}

// acknowledge records a write outcome. The pending entry is cleared only when
// m is still the project's latest mutation.
func (e *Engine) acknowledge(m *mutation, writeErr error) error {
	pw := e.pending[m.projectID]
	latest := pw != nil && pw.seq == m.seq
	if latest {
		delete(e.pending, m.projectID)
	}

	if writeErr == nil {
		e.logger.Debug("write acknowledged", "op", m.op, "project", m.projectID, "seq", m.seq)
		if latest {
			e.publish()
		}
		return nil
	}

	serr := remoteError(ErrCodeRemoteWrite, m.op, m.projectID, m.taskID, writeErr)
	e.logger.Warn("remote write failed",
		"op", m.op,
		"project", m.projectID,
		"seq", m.seq,
		"error", writeErr,
	)
	e.lastErr = serr
	if e.rollback && latest {
		e.restore(pw)
	}
	e.publish()
	return serr
}

func (e *Engine) stageMutation(op, account, taskID string, kind writeKind, p model.Project, appendable bool) *mutation {
	pw := e.stage(kind, p, appendable)
	m := &mutation{
		op:        op,
		projectID: p.ID,
		taskID:    taskID,
		kind:      kind,
		path:      doc.ProjectPath(account, p.ID),
		seq:       pw.seq,
	}
	switch kind {
	case writeSet:
		m.data = codec.EncodeProject(p)
	case writeMerge:
		m.data = codec.EncodeProjectPatch(p)
	}
	return m
}

// CreateProject publishes p and writes it with an overwrite. An empty ID or
// CreatedAt is assigned, the owner is the signed-in account and a nil task
// list becomes empty. The project stays in the list when the write fails
// unless rollback is enabled.
func (e *Engine) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	const op = "create project"
	p = p.Clone()
	err := e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		if p.ID == "" {
			p.ID = e.ids.Generate()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = e.now().UTC()
		}
		if p.Status == "" {
			p.Status = model.StatusNotStarted
		}
		if p.Tasks == nil {
			p.Tasks = []model.ProjectTask{}
		}
		p.OwnerID = account
		return e.stageMutation(op, account, "", writeSet, p, true), nil
	})
	return p, err
}

// UpdateProject merge-writes p. The local entry is replaced when present; an
// absent project is not appended, but the remote write still happens.
func (e *Engine) UpdateProject(ctx context.Context, p model.Project) error {
	const op = "update project"
	p = p.Clone()
	return e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		if p.ID == "" {
			return nil, projectNotFound(op, "")
		}
		return e.stageMutation(op, account, "", writeMerge, p, false), nil
	})
}

// DeleteProject removes the project locally, if present, and deletes it
// remotely.
func (e *Engine) DeleteProject(ctx context.Context, projectID string) error {
	const op = "delete project"
	return e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		if projectID == "" {
			return nil, projectNotFound(op, "")
		}
		return e.stageMutation(op, account, "", writeDelete, model.Project{ID: projectID}, false), nil
	})
}

// spliceTasks runs edit on a copy of the local project and stages the
// result as a merge. Nothing changes when the project is absent or edit
// fails.
func (e *Engine) spliceTasks(op, account, projectID, taskID string, edit func(p *model.Project) *SyncError) (*mutation, *SyncError) {
	idx := indexOf(e.projects, projectID)
	if idx < 0 {
		return nil, projectNotFound(op, projectID)
	}
	p := e.projects[idx].Clone()
	if err := edit(&p); err != nil {
		return nil, err
	}
	return e.stageMutation(op, account, taskID, writeMerge, p, false), nil
}

// AddTask appends task to the project's task list. An empty ID or CreatedAt
// is assigned and an empty priority defaults to medium.
func (e *Engine) AddTask(ctx context.Context, task model.ProjectTask, projectID string) (model.ProjectTask, error) {
	const op = "add task"
	task = task.Clone()
	err := e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		return e.spliceTasks(op, account, projectID, task.ID, func(p *model.Project) *SyncError {
			if task.ID == "" {
				task.ID = e.ids.Generate()
			}
			if task.CreatedAt.IsZero() {
				task.CreatedAt = e.now().UTC()
			}
			if task.Priority == "" {
				task.Priority = model.PriorityMedium
			}
			if task.Comments == nil {
				task.Comments = []model.Comment{}
			}
			p.Tasks = append(p.Tasks, task.Clone())
			return nil
		})
	})
	return task, err
}

// UpdateTask replaces the task with task.ID.
func (e *Engine) UpdateTask(ctx context.Context, task model.ProjectTask, projectID string) error {
	const op = "update task"
	task = task.Clone()
	return e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		return e.spliceTasks(op, account, projectID, task.ID, func(p *model.Project) *SyncError {
			i := p.TaskIndex(task.ID)
			if i < 0 {
				return taskNotFound(op, projectID, task.ID)
			}
			p.Tasks[i] = task.Clone()
			return nil
		})
	})
}

// DeleteTask removes the task with taskID.
func (e *Engine) DeleteTask(ctx context.Context, taskID, projectID string) error {
	const op = "delete task"
	return e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		return e.spliceTasks(op, account, projectID, taskID, func(p *model.Project) *SyncError {
			i := p.TaskIndex(taskID)
			if i < 0 {
				return taskNotFound(op, projectID, taskID)
			}
			p.Tasks = slices.Delete(p.Tasks, i, i+1)
			return nil
		})
	})
}

// ToggleTaskCompletion flips IsCompleted on the task with taskID.
func (e *Engine) ToggleTaskCompletion(ctx context.Context, taskID, projectID string) error {
	const op = "toggle task"
	return e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		return e.spliceTasks(op, account, projectID, taskID, func(p *model.Project) *SyncError {
			i := p.TaskIndex(taskID)
			if i < 0 {
				return taskNotFound(op, projectID, taskID)
			}
			p.Tasks[i].IsCompleted = !p.Tasks[i].IsCompleted
			return nil
		})
	})
}

// AddComment appends c to the task's comments. An empty ID or CreatedAt is
// assigned and an author without an ID becomes the signed-in account.
func (e *Engine) AddComment(ctx context.Context, c model.Comment, taskID, projectID string) (model.Comment, error) {
	const op = "add comment"
	c = c.Clone()
	err := e.mutate(ctx, op, func(account string) (*mutation, *SyncError) {
		return e.spliceTasks(op, account, projectID, taskID, func(p *model.Project) *SyncError {
			i := p.TaskIndex(taskID)
			if i < 0 {
				return taskNotFound(op, projectID, taskID)
			}
			if c.ID == "" {
				c.ID = e.ids.Generate()
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = e.now().UTC()
			}
			if c.Author.ID == "" {
				c.Author.ID = account
			}
			p.Tasks[i].Comments = append(p.Tasks[i].Comments, c.Clone())
			return nil
		})
	})
	return c, err
}
