package restfake

import (
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/roach88/tasksync/internal/doc"
)

func statusFor(completed bool) doc.String {
	if completed {
		return "done"
	}
	return "todo"
}

// taskLocked returns a task the user may access, or writes the error.
func (s *Server) taskLocked(w http.ResponseWriter, id, userID string) (doc.Map, bool) {
	t, ok := s.tasks[id]
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return nil, false
	}
	p, ok := s.projects[str(t, "projectId")]
	if !ok || !canSee(p, userID) {
		writeError(w, http.StatusNotFound, "task not found")
		return nil, false
	}
	return t, true
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, userID string) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok || !canSee(p, userID) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	data := doc.Array{}
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; str(t, "projectId") == projectID {
			data = append(data, t.Clone())
		}
	}
	count := len(data)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Count: &count})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, userID string) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if str(body, "title") == "" || str(body, "projectId") == "" {
		writeError(w, http.StatusBadRequest, "title and projectId are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[str(body, "projectId")]
	if !ok || !canSee(p, userID) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	id := str(body, "id")
	if id == "" {
		id = s.newID()
	}
	if _, exists := s.tasks[id]; exists {
		writeError(w, http.StatusBadRequest, "task already exists")
		return
	}
	body["id"] = doc.String(id)
	completed, _ := body["isCompleted"].(doc.Bool)
	body["isCompleted"] = completed
	if _, ok := body["status"]; !ok {
		body["status"] = statusFor(bool(completed))
	}
	if _, ok := body["comments"].(doc.Array); !ok {
		body["comments"] = doc.Array{}
	}
	if _, ok := body["createdAt"]; !ok {
		body["createdAt"] = s.stamp()
	}
	s.tasks[id] = body
	s.taskOrder = append(s.taskOrder, id)
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "task created", Data: body.Clone()})
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.taskLocked(w, id, userID)
	if !ok {
		return
	}
	for k, v := range body {
		switch k {
		case "id", "projectId", "comments":
			continue
		}
		t[k] = v
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "task updated", Data: t.Clone()})
}

func (s *Server) toggleTask(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.taskLocked(w, id, userID)
	if !ok {
		return
	}
	completed, _ := t["isCompleted"].(doc.Bool)
	t["isCompleted"] = !completed
	t["status"] = statusFor(bool(!completed))
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "task toggled", Data: t.Clone()})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.taskLocked(w, id, userID); !ok {
		return
	}
	delete(s.tasks, id)
	s.taskOrder = slices.DeleteFunc(s.taskOrder, func(tid string) bool { return tid == id })
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "task deleted"})
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.taskLocked(w, id, userID)
	if !ok {
		return
	}
	if str(body, "id") == "" {
		body["id"] = doc.String(s.newID())
	}
	if _, ok := body["author"].(doc.Map); !ok {
		body["author"] = s.accounts[userID].user.Clone()
	}
	if _, ok := body["createdAt"]; !ok {
		body["createdAt"] = s.stamp()
	}
	comments, _ := t["comments"].(doc.Array)
	t["comments"] = append(slices.Clone(comments), body)
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "comment added", Data: body.Clone()})
}
