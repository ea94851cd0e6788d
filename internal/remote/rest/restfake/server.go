// Package restfake is an in-memory implementation of the project API used
// by tests and by `tasksync fake-server`.
//
// It follows the API's request/response contract: bearer-token auth, the
// {success, message, data, token, count, error} envelope, ownership and
// team-lead authorization on project updates, creator-only deletes that
// cascade to tasks, and a per-task status string kept alongside
// isCompleted.
package restfake

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/roach88/tasksync/internal/doc"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Token   string `json:"token,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

type account struct {
	user     doc.Map
	password string
}

// Server is the fake API. The zero value is not usable; call New.
type Server struct {
	router *mux.Router
	now    func() time.Time
	newID  func() string

	mu           sync.Mutex
	accounts     map[string]*account // by user id
	emails       map[string]string   // email -> user id
	tokens       map[string]string   // token -> user id
	projects     map[string]doc.Map
	projectOrder []string
	tasks        map[string]doc.Map
	taskOrder    []string
	failStatus   int
	requests     []string
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithIDs sets the id generator for server-assigned ids and tokens.
func WithIDs(newID func() string) Option {
	return func(s *Server) { s.newID = newID }
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		accounts: make(map[string]*account),
		emails:   make(map[string]string),
		tokens:   make(map[string]string),
		projects: make(map[string]doc.Map),
		tasks:    make(map[string]doc.Map),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.recordAndFail)
	r.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.authed(s.me)).Methods(http.MethodGet)
	r.HandleFunc("/projects", s.authed(s.listProjects)).Methods(http.MethodGet)
	r.HandleFunc("/projects", s.authed(s.createProject)).Methods(http.MethodPost)
	r.HandleFunc("/projects/{id}", s.authed(s.updateProject)).Methods(http.MethodPut)
	r.HandleFunc("/projects/{id}", s.authed(s.deleteProject)).Methods(http.MethodDelete)
	r.HandleFunc("/tasks", s.authed(s.listTasks)).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.authed(s.createTask)).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", s.authed(s.updateTask)).Methods(http.MethodPut)
	r.HandleFunc("/tasks/{id}", s.authed(s.deleteTask)).Methods(http.MethodDelete)
	r.HandleFunc("/tasks/{id}/toggle", s.authed(s.toggleTask)).Methods(http.MethodPut)
	r.HandleFunc("/tasks/{id}/comments", s.authed(s.addComment)).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetFailure makes every request answer with status until cleared with 0.
func (s *Server) SetFailure(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// Requests returns "METHOD /path" for every request received, in order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// SeedUser registers an account directly and returns its id and token.
func (s *Server) SeedUser(displayName, email, password string) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, token := s.createAccountLocked(displayName, email, password)
	return id, token
}

func (s *Server) recordAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		status := s.failStatus
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		s.mu.Lock()
		userID, ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		h(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func readBody(r *http.Request) (doc.Map, error) {
	var m doc.Map
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = doc.Map{}
	}
	return m, nil
}

func str(m doc.Map, key string) string {
	v, _ := m[key].(doc.String)
	return string(v)
}

func (s *Server) stamp() doc.String {
	return doc.String(s.now().UTC().Format(time.RFC3339Nano))
}
