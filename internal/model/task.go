package model

import (
	"time"
)

// Priority represents task priority level
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Weight returns a numeric weight for sorting by priority
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ProjectTask is a task embedded in a project document.
type ProjectTask struct {
	ID          string
	Title       string
	Description string
	Assignee    *User
	DueDate     *time.Time
	Comments    []Comment
	IsCompleted bool
	Priority    Priority
	CreatedAt   time.Time
	ProjectID   string
}

// IsOverdue returns true if the task is incomplete and past its due date
func (t *ProjectTask) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.IsCompleted {
		return false
	}
	return now.After(*t.DueDate)
}

// Clone returns a deep copy of the task.
func (t ProjectTask) Clone() ProjectTask {
	out := t
	out.Assignee = cloneUser(t.Assignee)
	out.DueDate = cloneTime(t.DueDate)
	if t.Comments != nil {
		out.Comments = make([]Comment, len(t.Comments))
		for i, c := range t.Comments {
			out.Comments[i] = c.Clone()
		}
	}
	return out
}

// Comment is a note embedded in a task.
type Comment struct {
	ID        string
	Author    User
	Text      string
	CreatedAt time.Time
}

// Clone returns a deep copy of the comment.
func (c Comment) Clone() Comment {
	out := c
	out.Author = c.Author.Clone()
	return out
}
