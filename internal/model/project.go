// Package model defines the typed entities synchronized by tasksync.
//
// Tasks and comments are embedded in their project; assignees, authors and
// team members are denormalized User snapshots, never references.
package model

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a project.
type Status string

const (
	StatusNotStarted Status = "notStarted"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Project is a document in an account's projects collection.
type Project struct {
	ID          string
	Title       string
	Description string
	IconName    string
	IconColor   string
	CreatedAt   time.Time
	Status      Status
	DueDate     *time.Time
	Tasks       []ProjectTask
	TeamLeader  *User
	TeamMembers []User
	OwnerID     string
}

// TaskCount returns the number of embedded tasks.
func (p *Project) TaskCount() int {
	return len(p.Tasks)
}

// CompletedCount returns the number of tasks marked completed.
func (p *Project) CompletedCount() int {
	n := 0
	for i := range p.Tasks {
		if p.Tasks[i].IsCompleted {
			n++
		}
	}
	return n
}

// Progress returns completed / total, or 0 for a project without tasks.
func (p *Project) Progress() float64 {
	total := p.TaskCount()
	if total == 0 {
		return 0
	}
	return float64(p.CompletedCount()) / float64(total)
}

// TaskIndex returns the position of the task with the given id, or -1.
func (p *Project) TaskIndex(id string) int {
	return slices.IndexFunc(p.Tasks, func(t ProjectTask) bool { return t.ID == id })
}

// Clone returns a deep copy. Published project lists are never shared with
// code that mutates them.
func (p Project) Clone() Project {
	out := p
	out.DueDate = cloneTime(p.DueDate)
	out.TeamLeader = cloneUser(p.TeamLeader)
	if p.TeamMembers != nil {
		out.TeamMembers = make([]User, len(p.TeamMembers))
		for i, u := range p.TeamMembers {
			out.TeamMembers[i] = u.Clone()
		}
	}
	if p.Tasks != nil {
		out.Tasks = make([]ProjectTask, len(p.Tasks))
		for i, t := range p.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	return out
}

// CloneProjects deep-copies a project list.
func CloneProjects(projects []Project) []Project {
	if projects == nil {
		return nil
	}
	out := make([]Project, len(projects))
	for i, p := range projects {
		out[i] = p.Clone()
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
