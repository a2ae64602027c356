package ticktick

import "time"

// Task statuses as reported by the API.
const (
	StatusOpen      = 0
	StatusCompleted = 2
)

// dateLayouts are the timestamp formats TickTick emits. The official API
// uses a millisecond format with a compact zone offset; RFC 3339 shows up on
// some endpoints.
var dateLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// ParseDate parses a TickTick timestamp. An empty or unparseable value
// returns nil; a bad date from the remote side is degraded, never an error.
func ParseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Task is the wire representation of a TickTick task.
type Task struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"projectId"`
	ParentID      string   `json:"parentId,omitempty"`
	Title         string   `json:"title"`
	Content       string   `json:"content,omitempty"`
	Priority      int      `json:"priority"`
	Status        int      `json:"status"`
	DueDate       string   `json:"dueDate,omitempty"`
	StartDate     string   `json:"startDate,omitempty"`
	CompletedTime string   `json:"completedTime,omitempty"`
	IsAllDay      bool     `json:"isAllDay,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Due returns the parsed due date, nil when absent or malformed.
func (t *Task) Due() *time.Time {
	return ParseDate(t.DueDate)
}

// Completed reports whether the remote status marks the task done.
func (t *Task) Completed() bool {
	return t.Status == StatusCompleted
}

// CompletedAt returns the parsed completion time, nil when absent.
func (t *Task) CompletedAt() *time.Time {
	return ParseDate(t.CompletedTime)
}

// Project is the wire representation of a TickTick project.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	SortOrder int64  `json:"sortOrder,omitempty"`
	Closed    bool   `json:"closed,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// ProjectData is a project together with its tasks, as returned by the
// /project/{id}/data endpoint.
type ProjectData struct {
	Project Project `json:"project"`
	Tasks   []Task  `json:"tasks"`
}

// TaskCreate is the request body for creating a task. ParentID turns the
// new task into a subtask of an existing one.
type TaskCreate struct {
	Title     string `json:"title"`
	ProjectID string `json:"projectId"`
	Content   string `json:"content,omitempty"`
	DueDate   string `json:"dueDate,omitempty"`
	IsAllDay  bool   `json:"isAllDay,omitempty"`
	Priority  int    `json:"priority"`
	ParentID  string `json:"parentId,omitempty"`
}

// TaskUpdate is the request body for updating a task. Pointer fields are
// only sent when set, so an absent field leaves the remote value alone.
type TaskUpdate struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"projectId"`
	Title     *string `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
	DueDate   *string `json:"dueDate,omitempty"`
	Priority  *int    `json:"priority,omitempty"`
}
