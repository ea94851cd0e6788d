package rest

import (
	"context"
	"fmt"

	"github.com/roach88/tasksync/internal/doc"
)

// reconcileTasks makes the API's task collection for a project match the
// desired embedded tasks: new tasks are created, changed tasks updated
// (or toggled when only completion changed), new comments posted and
// missing tasks deleted. Comments are append-only in the API.
func (s *Store) reconcileTasks(ctx context.Context, projectID string, desired []doc.Map) error {
	current, err := s.client.ListTasks(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	existing := make(map[string]doc.Map, len(current))
	for _, t := range current {
		existing[idOf(t)] = t
	}

	keep := make(map[string]bool, len(desired))
	for _, want := range desired {
		id := idOf(want)
		keep[id] = true

		have, ok := existing[id]
		if !ok {
			if _, err := s.client.CreateTask(ctx, taskPayload(projectID, want)); err != nil {
				return fmt.Errorf("create task %s: %w", id, err)
			}
			continue
		}
		if err := s.updateTask(ctx, id, have, want); err != nil {
			return err
		}
	}

	for _, t := range current {
		id := idOf(t)
		if keep[id] {
			continue
		}
		if err := s.client.DeleteTask(ctx, id); err != nil {
			return fmt.Errorf("delete task %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) updateTask(ctx context.Context, id string, have, want doc.Map) error {
	haveFields := taskFields(have)
	wantFields := taskFields(want)

	if !doc.Equal(haveFields, wantFields) {
		onlyCompletion := !doc.Equal(haveFields["isCompleted"], wantFields["isCompleted"])
		if onlyCompletion {
			h := haveFields.Clone()
			h["isCompleted"] = wantFields["isCompleted"]
			onlyCompletion = doc.Equal(h, wantFields)
		}
		if onlyCompletion {
			if _, err := s.client.ToggleTask(ctx, id); err != nil {
				return fmt.Errorf("toggle task %s: %w", id, err)
			}
		} else {
			if _, err := s.client.UpdateTask(ctx, id, wantFields); err != nil {
				return fmt.Errorf("update task %s: %w", id, err)
			}
		}
	}

	seen := make(map[string]bool)
	if arr, ok := have["comments"].(doc.Array); ok {
		for _, c := range arr {
			if cm, ok := c.(doc.Map); ok {
				seen[idOf(cm)] = true
			}
		}
	}
	if arr, ok := want["comments"].(doc.Array); ok {
		for _, c := range arr {
			cm, ok := c.(doc.Map)
			if !ok || seen[idOf(cm)] {
				continue
			}
			if _, err := s.client.AddComment(ctx, id, cm); err != nil {
				return fmt.Errorf("add comment to task %s: %w", id, err)
			}
		}
	}
	return nil
}

// taskFields returns the task's own fields, without comments and API
// annotations. Missing isCompleted is read as false.
func taskFields(t doc.Map) doc.Map {
	out := make(doc.Map, len(t))
	for k, v := range t {
		switch k {
		case "comments", "status", "projectId":
			continue
		}
		out[k] = v
	}
	if _, ok := out["isCompleted"]; !ok {
		out["isCompleted"] = doc.Bool(false)
	}
	return out
}
