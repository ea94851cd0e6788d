package engine

import (
	"slices"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/model"
)

type writeKind int

const (
	writeSet writeKind = iota + 1
	writeMerge
	writeDelete
)

func (k writeKind) String() string {
	switch k {
	case writeSet:
		return "set"
	case writeMerge:
		return "merge"
	case writeDelete:
		return "delete"
	}
	return "unknown"
}

// pendingWrite pins a project's optimistic value until its write is
// acknowledged. There is at most one entry per project: the latest mutation.
type pendingWrite struct {
	seq  int64
	kind writeKind

	// value is the optimistic project; for deletes only ID is set.
	value model.Project

	// revision is the content hash of value's document form. A snapshot
	// carrying the same revision confirms the write before its ack arrives.
	revision string

	// prior is the list entry the mutation replaced, nil when absent.
	prior      *model.Project
	priorIndex int

	// appendable entries are re-added when a snapshot lacks them. Only
	// creates, or mutations stacked on an unconfirmed create, append.
	appendable bool
}

// revisionOf hashes the document form of p. Backends may drop or add fields
// they do not own, so both sides are compared after a decode/encode pass.
func revisionOf(p model.Project) string {
	rev, err := doc.Revision(codec.EncodeProject(p))
	if err != nil {
		return ""
	}
	return rev
}

// overlay applies pending writes to a freshly decoded snapshot, oldest
// first, and drops entries the snapshot already confirms.
func (e *Engine) overlay(projects []model.Project) []model.Project {
	if len(e.pending) == 0 {
		return projects
	}

	entries := make([]*pendingWrite, 0, len(e.pending))
	for _, pw := range e.pending {
		entries = append(entries, pw)
	}
	slices.SortFunc(entries, func(a, b *pendingWrite) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	for _, pw := range entries {
		id := pw.value.ID
		idx := indexOf(projects, id)

		if pw.kind == writeDelete {
			if idx >= 0 {
				projects = slices.Delete(projects, idx, idx+1)
			}
			continue
		}

		switch {
		case idx >= 0 && pw.revision != "" && revisionOf(projects[idx]) == pw.revision:
			delete(e.pending, id)
			e.logger.Debug("pending write confirmed by snapshot", "project", id, "seq", pw.seq)
		case idx >= 0:
			projects[idx] = pw.value.Clone()
		case pw.appendable:
			projects = append(projects, pw.value.Clone())
		}
	}
	return projects
}

// stage applies an optimistic value to the local list and records it as the
// project's pending write.
func (e *Engine) stage(kind writeKind, p model.Project, appendable bool) *pendingWrite {
	idx := indexOf(e.projects, p.ID)
	var prior *model.Project
	if idx >= 0 {
		c := e.projects[idx].Clone()
		prior = &c
	}

	switch {
	case kind == writeDelete:
		if idx >= 0 {
			e.projects = slices.Delete(e.projects, idx, idx+1)
		}
	case idx >= 0:
		e.projects[idx] = p.Clone()
	case appendable:
		e.projects = append(e.projects, p.Clone())
	}

	if prev := e.pending[p.ID]; prev != nil && prev.appendable && kind != writeDelete {
		appendable = true
	}

	pw := &pendingWrite{
		seq:        e.clock.Next(),
		kind:       kind,
		value:      p.Clone(),
		prior:      prior,
		priorIndex: idx,
		appendable: appendable,
	}
	if kind != writeDelete {
		pw.revision = revisionOf(p)
	}
	e.pending[p.ID] = pw
	return pw
}

// restore undoes pw in the local list.
func (e *Engine) restore(pw *pendingWrite) {
	id := pw.value.ID
	idx := indexOf(e.projects, id)
	switch {
	case pw.prior == nil:
		if idx >= 0 {
			e.projects = slices.Delete(e.projects, idx, idx+1)
		}
	case idx >= 0:
		e.projects[idx] = pw.prior.Clone()
	default:
		at := min(max(pw.priorIndex, 0), len(e.projects))
		e.projects = slices.Insert(e.projects, at, pw.prior.Clone())
	}
	e.logger.Info("rolled back failed write", "project", id, "seq", pw.seq)
}

func indexOf(projects []model.Project, id string) int {
	return slices.IndexFunc(projects, func(p model.Project) bool { return p.ID == id })
}
