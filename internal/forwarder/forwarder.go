// Package forwarder translates task mutation commands into TickTick API
// calls.
//
// Every command is validated before anything leaves the process; malformed
// input is rejected synchronously and never sent to the remote API. After a
// successful remote call the forwarder requests an out-of-band poll so
// local state catches up promptly instead of waiting for the next timer
// tick. A failed remote call is returned to the caller and requests no
// refresh.
package forwarder

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ticktick"
)

// ValidationError rejects malformed command input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// API is the slice of the TickTick client the forwarder uses.
type API interface {
	CreateTask(ctx context.Context, create ticktick.TaskCreate) (*ticktick.Task, error)
	UpdateTask(ctx context.Context, update ticktick.TaskUpdate) (*ticktick.Task, error)
	CompleteTask(ctx context.Context, projectID, taskID string) error
	DeleteTask(ctx context.Context, projectID, taskID string) error
}

// SnapshotSource provides the current snapshot for default-project
// resolution. May return nil before the first poll.
type SnapshotSource interface {
	Snapshot() *snapshot.Snapshot
}

// Refresher accepts out-of-band poll requests.
type Refresher interface {
	RequestRefresh()
}

// Forwarder validates commands and forwards them to the remote API.
type Forwarder struct {
	api     API
	source  SnapshotSource
	refresh Refresher
	logger  *log.Logger
	clock   func() time.Time
	dates   *when.Parser
}

// New creates a forwarder. source and refresh may be nil for one-shot CLI
// use; a nil source disables default-project resolution and a nil refresh
// makes post-mutation refreshes a no-op.
func New(api API, source SnapshotSource, refresh Refresher, logger *log.Logger) *Forwarder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	dates := when.New(nil)
	dates.Add(en.All...)
	dates.Add(common.All...)

	return &Forwarder{
		api:     api,
		source:  source,
		refresh: refresh,
		logger:  logger,
		clock:   time.Now,
		dates:   dates,
	}
}

// CreateRequest describes a create-task command. Priority is the string
// form (none/low/medium/high); Due accepts RFC 3339 or natural language.
type CreateRequest struct {
	Title     string `json:"title"`
	ProjectID string `json:"project_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Due       string `json:"due_date,omitempty"`
	Priority  string `json:"priority,omitempty"`
	AllDay    bool   `json:"all_day,omitempty"`
}

// UpdateRequest describes an update-task command. Empty optional fields
// leave the remote value alone.
type UpdateRequest struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	Due       string `json:"due_date,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// SubtaskRequest describes a create-subtask command.
type SubtaskRequest struct {
	ParentTaskID string `json:"parent_task_id"`
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	Content      string `json:"content,omitempty"`
}

// CreateTask validates and forwards a task creation. Without a project ID
// the task lands in the snapshot's Inbox, falling back to the first known
// project.
func (f *Forwarder) CreateTask(ctx context.Context, req CreateRequest) (*ticktick.Task, error) {
	if req.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "required"}
	}
	priority, err := f.parsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	due, err := f.parseDue(req.Due)
	if err != nil {
		return nil, err
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID, err = f.defaultProject()
		if err != nil {
			return nil, err
		}
	}

	task, err := f.api.CreateTask(ctx, ticktick.TaskCreate{
		Title:     req.Title,
		ProjectID: projectID,
		Content:   req.Content,
		DueDate:   due,
		IsAllDay:  req.AllDay,
		Priority:  priority,
	})
	if err != nil {
		return nil, err
	}

	f.logger.Printf("Created task %s in project %s", task.ID, projectID)
	f.requestRefresh()
	return task, nil
}

// UpdateTask validates and forwards a task update.
func (f *Forwarder) UpdateTask(ctx context.Context, req UpdateRequest) (*ticktick.Task, error) {
	if req.TaskID == "" {
		return nil, &ValidationError{Field: "task_id", Reason: "required"}
	}
	if req.ProjectID == "" {
		return nil, &ValidationError{Field: "project_id", Reason: "required"}
	}

	update := ticktick.TaskUpdate{ID: req.TaskID, ProjectID: req.ProjectID}
	if req.Title != "" {
		update.Title = &req.Title
	}
	if req.Content != "" {
		update.Content = &req.Content
	}
	if req.Due != "" {
		due, err := f.parseDue(req.Due)
		if err != nil {
			return nil, err
		}
		update.DueDate = &due
	}
	if req.Priority != "" {
		priority, err := f.parsePriority(req.Priority)
		if err != nil {
			return nil, err
		}
		update.Priority = &priority
	}

	task, err := f.api.UpdateTask(ctx, update)
	if err != nil {
		return nil, err
	}

	f.logger.Printf("Updated task %s", req.TaskID)
	f.requestRefresh()
	return task, nil
}

// CompleteTask marks a task complete.
func (f *Forwarder) CompleteTask(ctx context.Context, projectID, taskID string) error {
	if taskID == "" {
		return &ValidationError{Field: "task_id", Reason: "required"}
	}
	if projectID == "" {
		return &ValidationError{Field: "project_id", Reason: "required"}
	}

	if err := f.api.CompleteTask(ctx, projectID, taskID); err != nil {
		return err
	}

	f.logger.Printf("Completed task %s", taskID)
	f.requestRefresh()
	return nil
}

// DeleteTask deletes a task.
func (f *Forwarder) DeleteTask(ctx context.Context, projectID, taskID string) error {
	if taskID == "" {
		return &ValidationError{Field: "task_id", Reason: "required"}
	}
	if projectID == "" {
		return &ValidationError{Field: "project_id", Reason: "required"}
	}

	if err := f.api.DeleteTask(ctx, projectID, taskID); err != nil {
		return err
	}

	f.logger.Printf("Deleted task %s", taskID)
	f.requestRefresh()
	return nil
}

// CreateSubtask creates a task under an existing parent.
func (f *Forwarder) CreateSubtask(ctx context.Context, req SubtaskRequest) (*ticktick.Task, error) {
	if req.ParentTaskID == "" {
		return nil, &ValidationError{Field: "parent_task_id", Reason: "required"}
	}
	if req.ProjectID == "" {
		return nil, &ValidationError{Field: "project_id", Reason: "required"}
	}
	if req.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "required"}
	}

	task, err := f.api.CreateTask(ctx, ticktick.TaskCreate{
		Title:     req.Title,
		ProjectID: req.ProjectID,
		Content:   req.Content,
		ParentID:  req.ParentTaskID,
	})
	if err != nil {
		return nil, err
	}

	f.logger.Printf("Created subtask %s under %s", task.ID, req.ParentTaskID)
	f.requestRefresh()
	return task, nil
}

// CompleteSubtask marks a subtask complete. Subtasks are tasks, so this is
// completion addressed at the child ID.
func (f *Forwarder) CompleteSubtask(ctx context.Context, projectID, subtaskID string) error {
	return f.CompleteTask(ctx, projectID, subtaskID)
}

func (f *Forwarder) requestRefresh() {
	if f.refresh != nil {
		f.refresh.RequestRefresh()
	}
}

func (f *Forwarder) parsePriority(name string) (int, error) {
	priority, err := snapshot.ParsePriority(name)
	if err != nil {
		return 0, &ValidationError{Field: "priority", Reason: err.Error()}
	}
	return priority, nil
}

// parseDue normalizes a due date to the RFC 3339 form the API accepts.
// RFC 3339 input passes through; anything else goes to the natural-language
// parser ("tomorrow 5pm", "in 2 hours").
func (f *Forwarder) parseDue(input string) (string, error) {
	if input == "" {
		return "", nil
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t.Format(time.RFC3339), nil
	}

	result, err := f.dates.Parse(input, f.clock())
	if err != nil || result == nil {
		return "", &ValidationError{Field: "due_date", Reason: fmt.Sprintf("cannot parse %q", input)}
	}
	return result.Time.Format(time.RFC3339), nil
}

// defaultProject resolves the project for a creation without an explicit
// project ID: the Inbox by name, else the first known project.
func (f *Forwarder) defaultProject() (string, error) {
	if f.source == nil {
		return "", &ValidationError{Field: "project_id", Reason: "required (no snapshot to resolve a default from)"}
	}
	s := f.source.Snapshot()
	if s == nil {
		return "", &ValidationError{Field: "project_id", Reason: "required (no snapshot yet)"}
	}
	if p, ok := s.ProjectByName("inbox"); ok {
		return p.ID, nil
	}
	if p, ok := s.FirstProject(); ok {
		return p.ID, nil
	}
	return "", &ValidationError{Field: "project_id", Reason: "required (no projects known)"}
}
