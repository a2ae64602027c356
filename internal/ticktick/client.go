// Package ticktick implements a client for the TickTick Open API.
//
// The client covers the project and task endpoints the bridge needs:
// listing projects, fetching a project with its tasks, and task CRUD
// including subtasks. Authentication is a bearer token supplied by the
// http.Client (see internal/auth); this package never touches credentials
// directly.
//
// Failures map onto three types: AuthError (401), RateLimitError (429) and
// APIError (everything else). See errors.go.
package ticktick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// API endpoints. The OAuth2 URLs live here with the base URL so the whole
// remote surface is in one place.
const (
	BaseURL      = "https://api.ticktick.com/open/v1"
	OAuthAuthURL = "https://ticktick.com/oauth/authorize"
	OAuthToken   = "https://ticktick.com/oauth/token"
)

// DefaultTimeout bounds a single API call. There is no mid-flight
// cancellation beyond this; the timeout is the worst-case blocking bound.
const DefaultTimeout = 30 * time.Second

// Client is a TickTick Open API client. The zero value is not usable; use
// New.
type Client struct {
	base   string
	hc     *http.Client
	logger *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = base }
}

// WithLogger sets the request logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client on top of hc, which is expected to inject the bearer
// token (an oauth2 transport does this). A nil hc falls back to a plain
// client, useful only for tests.
func New(hc *http.Client, opts ...Option) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if hc.Timeout == 0 {
		hc.Timeout = DefaultTimeout
	}
	c := &Client{
		base:   BaseURL,
		hc:     hc,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request performs one API call. A nil out discards the response body.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Printf("%s %s", method, path)

	resp, err := c.hc.Do(req)
	if err != nil {
		return &APIError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Message: "invalid or expired access token"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 400:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(text)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// GetProjects lists all projects.
func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.request(ctx, http.MethodGet, "/project", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProjectData fetches a project together with all its tasks.
func (c *Client) GetProjectData(ctx context.Context, projectID string) (*ProjectData, error) {
	var data ProjectData
	if err := c.request(ctx, http.MethodGet, "/project/"+projectID+"/data", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, projectID, taskID string) (*Task, error) {
	var task Task
	path := "/project/" + projectID + "/task/" + taskID
	if err := c.request(ctx, http.MethodGet, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask creates a task. With ParentID set this creates a subtask.
func (c *Client) CreateTask(ctx context.Context, create TaskCreate) (*Task, error) {
	var task Task
	if err := c.request(ctx, http.MethodPost, "/task", create, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask updates an existing task. Only set fields are sent.
func (c *Client) UpdateTask(ctx context.Context, update TaskUpdate) (*Task, error) {
	var task Task
	if err := c.request(ctx, http.MethodPost, "/task/"+update.ID, update, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CompleteTask marks a task complete.
func (c *Client) CompleteTask(ctx context.Context, projectID, taskID string) error {
	path := "/project/" + projectID + "/task/" + taskID + "/complete"
	return c.request(ctx, http.MethodPost, path, nil, nil)
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	path := "/project/" + projectID + "/task/" + taskID
	return c.request(ctx, http.MethodDelete, path, nil, nil)
}
