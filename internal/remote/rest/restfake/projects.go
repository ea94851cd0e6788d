package restfake

import (
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/roach88/tasksync/internal/doc"
)

// canSee reports whether the user owns, leads or belongs to the project.
func canSee(p doc.Map, userID string) bool {
	return str(p, "ownerId") == userID || leads(p, userID) || isMember(p, userID)
}

func leads(p doc.Map, userID string) bool {
	leader, ok := p["teamLeader"].(doc.Map)
	return ok && str(leader, "id") == userID
}

func isMember(p doc.Map, userID string) bool {
	members, _ := p["teamMembers"].(doc.Array)
	for _, m := range members {
		if mm, ok := m.(doc.Map); ok && str(mm, "id") == userID {
			return true
		}
	}
	return false
}

func (s *Server) listProjects(w http.ResponseWriter, _ *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := doc.Array{}
	for _, id := range s.projectOrder {
		p := s.projects[id]
		if !canSee(p, userID) {
			continue
		}
		out := p.Clone()
		total, done := s.countTasksLocked(id)
		out["taskCount"] = doc.Int(total)
		out["completedCount"] = doc.Int(done)
		data = append(data, out)
	}
	count := len(data)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Count: &count})
}

func (s *Server) countTasksLocked(projectID string) (int64, int64) {
	var total, done int64
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if str(t, "projectId") != projectID {
			continue
		}
		total++
		if b, _ := t["isCompleted"].(doc.Bool); b {
			done++
		}
	}
	return total, done
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request, userID string) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if str(body, "title") == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := str(body, "id")
	if id == "" {
		id = s.newID()
	}
	if _, exists := s.projects[id]; exists {
		writeError(w, http.StatusBadRequest, "project already exists")
		return
	}
	delete(body, "tasks")
	body["id"] = doc.String(id)
	body["ownerId"] = doc.String(userID)
	if _, ok := body["createdAt"]; !ok {
		body["createdAt"] = s.stamp()
	}
	s.projects[id] = body
	s.projectOrder = append(s.projectOrder, id)
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "project created", Data: body.Clone()})
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok || !canSee(p, userID) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if str(p, "ownerId") != userID && !leads(p, userID) {
		writeError(w, http.StatusForbidden, "only the owner or team lead can update a project")
		return
	}
	for k, v := range body {
		switch k {
		case "id", "ownerId", "tasks", "taskCount", "completedCount":
			continue
		}
		p[k] = v
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "project updated", Data: p.Clone()})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok || !canSee(p, userID) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if str(p, "ownerId") != userID {
		writeError(w, http.StatusForbidden, "only the creator can delete a project")
		return
	}
	delete(s.projects, id)
	s.projectOrder = slices.DeleteFunc(s.projectOrder, func(pid string) bool { return pid == id })
	s.taskOrder = slices.DeleteFunc(s.taskOrder, func(tid string) bool {
		if str(s.tasks[tid], "projectId") == id {
			delete(s.tasks, tid)
			return true
		}
		return false
	})
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "project deleted"})
}
