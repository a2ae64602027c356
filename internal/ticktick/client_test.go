package ticktick

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient returns a client pointed at a test server running handler.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(srv.Client(), WithBaseURL(srv.URL))
}

func TestGetProjects(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/project" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Project{
			{ID: "proj1", Name: "Inbox"},
			{ID: "proj2", Name: "Work", Color: "#FF0000"},
		})
	})

	projects, err := client.GetProjects(context.Background())
	if err != nil {
		t.Fatalf("GetProjects() error: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if projects[0].ID != "proj1" || projects[1].Name != "Work" {
		t.Errorf("unexpected projects: %+v", projects)
	}
}

func TestGetProjectData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/project/proj1/data" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ProjectData{
			Project: Project{ID: "proj1", Name: "Inbox"},
			Tasks: []Task{
				{ID: "task1", ProjectID: "proj1", Title: "Buy milk", Priority: 5},
			},
		})
	})

	data, err := client.GetProjectData(context.Background(), "proj1")
	if err != nil {
		t.Fatalf("GetProjectData() error: %v", err)
	}
	if data.Project.ID != "proj1" || len(data.Tasks) != 1 {
		t.Errorf("unexpected data: %+v", data)
	}
}

func TestCreateTaskBody(t *testing.T) {
	var got TaskCreate
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/task" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		json.NewEncoder(w).Encode(Task{ID: "task9", ProjectID: got.ProjectID, Title: got.Title})
	})

	task, err := client.CreateTask(context.Background(), TaskCreate{
		Title:     "Water plants",
		ProjectID: "proj1",
		Priority:  3,
		ParentID:  "parent1",
	})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if task.ID != "task9" {
		t.Errorf("task ID = %q, want task9", task.ID)
	}
	if got.ParentID != "parent1" || got.Priority != 3 {
		t.Errorf("request body = %+v", got)
	}
}

func TestUpdateTaskOmitsUnsetFields(t *testing.T) {
	var raw map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task/task1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		json.NewEncoder(w).Encode(Task{ID: "task1"})
	})

	title := "New title"
	_, err := client.UpdateTask(context.Background(), TaskUpdate{
		ID:        "task1",
		ProjectID: "proj1",
		Title:     &title,
	})
	if err != nil {
		t.Fatalf("UpdateTask() error: %v", err)
	}
	if _, present := raw["content"]; present {
		t.Error("unset content field was sent")
	}
	if _, present := raw["priority"]; present {
		t.Error("unset priority field was sent")
	}
	if raw["title"] != "New title" {
		t.Errorf("title = %v, want New title", raw["title"])
	}
}

func TestDeleteTaskNoContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/project/proj1/task/task1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.DeleteTask(context.Background(), "proj1", "task1"); err != nil {
		t.Fatalf("DeleteTask() error: %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{
			name:   "401 is auth error",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				if !IsAuth(err) {
					t.Errorf("IsAuth(%v) = false, want true", err)
				}
			},
		},
		{
			name:       "429 carries retry-after",
			status:     http.StatusTooManyRequests,
			retryAfter: "42",
			check: func(t *testing.T, err error) {
				delay, ok := IsRateLimit(err)
				if !ok {
					t.Fatalf("IsRateLimit(%v) = false, want true", err)
				}
				if delay != 42*time.Second {
					t.Errorf("retry-after = %s, want 42s", delay)
				}
			},
		},
		{
			name:   "429 without header",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				delay, ok := IsRateLimit(err)
				if !ok || delay != 0 {
					t.Errorf("got (%s, %v), want (0, true)", delay, ok)
				}
			},
		},
		{
			name:   "500 is temporary API error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("error %T is not *APIError", err)
				}
				if !apiErr.Temporary() {
					t.Error("500 should be temporary")
				}
			},
		},
		{
			name:   "404 is permanent API error",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("error %T is not *APIError", err)
				}
				if apiErr.Temporary() {
					t.Error("404 should not be temporary")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			})

			_, err := client.GetProjects(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			tt.check(t, err)
		})
	}
}

func TestTransportErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := New(&http.Client{}, WithBaseURL(srv.URL))

	_, err := client.GetProjects(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if !apiErr.Temporary() {
		t.Error("transport failure should be temporary")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
		hour  int
	}{
		{name: "ticktick millisecond format", input: "2026-01-15T10:00:00.000+0000", want: true, hour: 10},
		{name: "rfc3339 offset", input: "2026-01-15T10:00:00+00:00", want: true, hour: 10},
		{name: "zulu", input: "2026-01-15T10:00:00Z", want: true, hour: 10},
		{name: "empty", input: "", want: false},
		{name: "garbage", input: "invalid-date", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDate(tt.input)
			if (got != nil) != tt.want {
				t.Fatalf("ParseDate(%q) = %v, want parsed=%v", tt.input, got, tt.want)
			}
			if got != nil && got.UTC().Hour() != tt.hour {
				t.Errorf("hour = %d, want %d", got.UTC().Hour(), tt.hour)
			}
		})
	}
}
