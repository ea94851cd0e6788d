package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		name  string
		tasks []ProjectTask
		want  float64
	}{
		{"no tasks", nil, 0},
		{"half done", []ProjectTask{{ID: "t1", IsCompleted: true}, {ID: "t2"}}, 0.5},
		{"all done", []ProjectTask{{ID: "t1", IsCompleted: true}}, 1},
		{"none done", []ProjectTask{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Project{Tasks: tt.tasks}
			assert.Equal(t, tt.want, p.Progress())
		})
	}
}

func TestCounts(t *testing.T) {
	p := Project{Tasks: []ProjectTask{{ID: "a", IsCompleted: true}, {ID: "b"}, {ID: "c", IsCompleted: true}}}

	assert.Equal(t, 3, p.TaskCount())
	assert.Equal(t, 2, p.CompletedCount())
	assert.Equal(t, 1, p.TaskIndex("b"))
	assert.Equal(t, -1, p.TaskIndex("missing"))
}

func TestInitials(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii", "ada lovelace", "A"},
		{"already upper", "Grace", "G"},
		{"leading space", "  bob", "B"},
		{"non-ascii", "\u00e9mile", "\u00c9"},
		{"empty", "", "?"},
		{"blank", "   ", "?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, User{DisplayName: tt.in}.Initials())
		})
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&ProjectTask{}).IsOverdue(now), "no due date")
	assert.True(t, (&ProjectTask{DueDate: &past}).IsOverdue(now))
	assert.False(t, (&ProjectTask{DueDate: &future}).IsOverdue(now))
	assert.False(t, (&ProjectTask{DueDate: &past, IsCompleted: true}).IsOverdue(now), "completed tasks are never overdue")
}

func TestStatusAndPriority(t *testing.T) {
	assert.True(t, StatusInProgress.Valid())
	assert.False(t, Status("archived").Valid())
	assert.True(t, PriorityHigh.Valid())
	assert.False(t, Priority("urgent").Valid())
	assert.Greater(t, PriorityHigh.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())
	assert.Equal(t, 0, Priority("").Weight())
}

func TestCloneIsDeep(t *testing.T) {
	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	original := Project{
		ID:         "p1",
		DueDate:    &due,
		TeamLeader: &User{ID: "u1", DisplayName: "Ada"},
		Tasks: []ProjectTask{{
			ID:       "t1",
			Assignee: &User{ID: "u2"},
			Comments: []Comment{{ID: "c1", Text: "hi"}},
		}},
	}

	clone := original.Clone()
	clone.Tasks[0].IsCompleted = true
	clone.Tasks[0].Comments[0].Text = "changed"
	clone.Tasks[0].Assignee.ID = "other"
	clone.TeamLeader.DisplayName = "Grace"
	*clone.DueDate = due.Add(time.Hour)

	assert.False(t, original.Tasks[0].IsCompleted)
	assert.Equal(t, "hi", original.Tasks[0].Comments[0].Text)
	assert.Equal(t, "u2", original.Tasks[0].Assignee.ID)
	assert.Equal(t, "Ada", original.TeamLeader.DisplayName)
	assert.Equal(t, due, *original.DueDate)
}

func TestCloneProjects(t *testing.T) {
	assert.Nil(t, CloneProjects(nil))

	list := []Project{{ID: "p1", Tasks: []ProjectTask{{ID: "t1"}}}}
	clone := CloneProjects(list)
	clone[0].Tasks[0].Title = "x"
	assert.Equal(t, "", list[0].Tasks[0].Title)
}
