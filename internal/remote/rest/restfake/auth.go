package restfake

import (
	"encoding/json"
	"net/http"

	"github.com/roach88/tasksync/internal/doc"
)

type credentials struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

func (s *Server) createAccountLocked(displayName, email, password string) (string, string) {
	id := s.newID()
	user := doc.Map{
		"id":        doc.String(id),
		"email":     doc.String(email),
		"createdAt": s.stamp(),
	}
	if displayName != "" {
		user["displayName"] = doc.String(displayName)
	}
	s.accounts[id] = &account{user: user, password: password}
	s.emails[email] = id
	token := s.newID()
	s.tokens[token] = id
	return id, token
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[creds.Email]; taken {
		writeError(w, http.StatusBadRequest, "email already registered")
		return
	}
	id, token := s.createAccountLocked(creds.DisplayName, creds.Email, creds.Password)
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "registered",
		Data:    s.accounts[id].user.Clone(),
		Token:   token,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[creds.Email]
	if !ok || s.accounts[id].password != creds.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token := s.newID()
	s.tokens[token] = id
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "logged in",
		Data:    s.accounts[id].user.Clone(),
		Token:   token,
	})
}

func (s *Server) me(w http.ResponseWriter, _ *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.accounts[userID].user.Clone()})
}
