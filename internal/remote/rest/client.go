// Package rest talks to the request/response project API and adapts it to
// remote.Store.
//
// The API keeps tasks in their own collection; the Store adapter embeds
// them into project documents on read and reconciles them on write, so the
// engine sees the same document shape as with the live-listener backends.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/remote"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 10 * time.Second

// Envelope is the response body shape of every endpoint.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Token   string          `json:"token,omitempty"`
	Count   int             `json:"count,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// APIError is a non-2xx response. It unwraps to the matching remote
// sentinel error.
type APIError struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Unwrap maps the status code onto remote sentinel errors.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return remote.ErrUnauthenticated
	case e.Status == http.StatusForbidden:
		return remote.ErrAuthorization
	case e.Status == http.StatusNotFound:
		return remote.ErrNotFound
	case e.Status >= 500:
		return remote.ErrUnavailable
	}
	return nil
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
	// HTTPClient overrides the default client, e.g. for httptest servers.
	HTTPClient *http.Client
}

// Client is a typed client for the project API. Requests pass through a
// circuit breaker; only transport failures and 5xx responses count against
// it.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		logger:  logger,
		token:   cfg.Token,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ProjectAPI",
		MaxRequests: 1,
		Timeout:     2 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, remote.ErrUnavailable)
		},
	})
	return c
}

// SetToken replaces the bearer credential.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do sends one request and decodes the envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (*Envelope, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, remote.ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return result.(*Envelope), nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) (*Envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var env Envelope
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: read body: %v", method, path, remote.ErrUnavailable, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%s %s: decode response: %w: %w", method, path, remote.ErrMalformed, err)
		}
	}

	if resp.StatusCode >= 300 {
		msg := env.Message
		if env.Error != "" {
			msg = strings.TrimSpace(msg + " " + env.Error)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("api request failed", "method", method, "path", path, "status", resp.StatusCode, "message", msg)
		return nil, &APIError{Status: resp.StatusCode, Method: method, Path: path, Message: msg}
	}
	return &env, nil
}

func decodeObject(env *Envelope) (doc.Map, error) {
	if len(env.Data) == 0 {
		return doc.Map{}, nil
	}
	var m doc.Map
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return nil, fmt.Errorf("decode data: %w: %w", remote.ErrMalformed, err)
	}
	return m, nil
}

func decodeList(env *Envelope) ([]doc.Map, error) {
	if len(env.Data) == 0 {
		return nil, nil
	}
	var arr doc.Array
	if err := json.Unmarshal(env.Data, &arr); err != nil {
		return nil, fmt.Errorf("decode data: %w: %w", remote.ErrMalformed, err)
	}
	out := make([]doc.Map, 0, len(arr))
	for i, v := range arr {
		m, ok := v.(doc.Map)
		if !ok {
			return nil, fmt.Errorf("decode data: %w: element %d is %T, want object", remote.ErrMalformed, i, v)
		}
		out = append(out, m)
	}
	return out, nil
}

// Credentials are the fields sent to register and login.
type Credentials struct {
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

func (c *Client) authenticate(ctx context.Context, path string, creds Credentials) (model.User, string, error) {
	env, err := c.do(ctx, http.MethodPost, path, creds)
	if err != nil {
		return model.User{}, "", err
	}
	m, err := decodeObject(env)
	if err != nil {
		return model.User{}, "", err
	}
	user, err := codec.DecodeUser(m)
	if err != nil {
		return model.User{}, "", err
	}
	c.SetToken(env.Token)
	return user, env.Token, nil
}

// Register creates an account and adopts the returned token.
func (c *Client) Register(ctx context.Context, creds Credentials) (model.User, string, error) {
	return c.authenticate(ctx, "/auth/register", creds)
}

// Login exchanges credentials for a token and adopts it.
func (c *Client) Login(ctx context.Context, creds Credentials) (model.User, string, error) {
	return c.authenticate(ctx, "/auth/login", creds)
}

// Me resolves the user owning the current token.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	env, err := c.do(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return model.User{}, err
	}
	m, err := decodeObject(env)
	if err != nil {
		return model.User{}, err
	}
	return codec.DecodeUser(m)
}

// ListProjects returns projects owned by or shared with the caller.
func (c *Client) ListProjects(ctx context.Context) ([]doc.Map, error) {
	env, err := c.do(ctx, http.MethodGet, "/projects", nil)
	if err != nil {
		return nil, err
	}
	return decodeList(env)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, project doc.Map) (doc.Map, error) {
	env, err := c.do(ctx, http.MethodPost, "/projects", project)
	if err != nil {
		return nil, err
	}
	return decodeObject(env)
}

// UpdateProject updates the named fields of a project.
func (c *Client) UpdateProject(ctx context.Context, id string, fields doc.Map) (doc.Map, error) {
	env, err := c.do(ctx, http.MethodPut, "/projects/"+url.PathEscape(id), fields)
	if err != nil {
		return nil, err
	}
	return decodeObject(env)
}

// DeleteProject deletes a project and its tasks.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil)
	return err
}

// ListTasks returns the tasks of one project.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]doc.Map, error) {
	env, err := c.do(ctx, http.MethodGet, "/tasks?projectId="+url.QueryEscape(projectID), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(env)
}

// CreateTask creates a task. The payload must carry projectId.
func (c *Client) CreateTask(ctx context.Context, task doc.Map) (doc.Map, error) {
	env, err := c.do(ctx, http.MethodPost, "/tasks", task)
	if err != nil {
		return nil, err
	}
	return decodeObject(env)
}

// UpdateTask updates the named fields of a task.
func (c *Client) UpdateTask(ctx context.Context, id string, fields doc.Map) (doc.Map, error) {
	env, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), fields)
	if err != nil {
		return nil, err
	}
	return decodeObject(env)
}

// ToggleTask flips a task's completion flag.
func (c *Client) ToggleTask(ctx context.Context, id string) (doc.Map, error) {
	env, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id)+"/toggle", nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(env)
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil)
	return err
}

// AddComment appends a comment to a task.
func (c *Client) AddComment(ctx context.Context, taskID string, comment doc.Map) (doc.Map, error) {
	env, err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/comments", comment)
	if err != nil {
		return nil, err
	}
	return decodeObject(env)
}
