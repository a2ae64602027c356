package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/marco308/ticktick-bridge/internal/forwarder"
	"github.com/marco308/ticktick-bridge/internal/journal"
	"github.com/marco308/ticktick-bridge/internal/poller"
	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ticktick"
)

// Commands is the forwarder surface the command endpoints call.
type Commands interface {
	CreateTask(ctx context.Context, req forwarder.CreateRequest) (*ticktick.Task, error)
	UpdateTask(ctx context.Context, req forwarder.UpdateRequest) (*ticktick.Task, error)
	CompleteTask(ctx context.Context, projectID, taskID string) error
	DeleteTask(ctx context.Context, projectID, taskID string) error
	CreateSubtask(ctx context.Context, req forwarder.SubtaskRequest) (*ticktick.Task, error)
}

// StatusSource provides the retained snapshot and poller health.
type StatusSource interface {
	Snapshot() *snapshot.Snapshot
	Health() poller.Health
}

// EventHistory reads back journaled events.
type EventHistory interface {
	Recent(limit int) ([]journal.Entry, error)
}

type handler struct {
	commands         Commands
	status           StatusSource
	history          EventHistory
	includeCompleted bool
	logger           *log.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: validation is the
// caller's fault (400), auth failures and rate limits are upstream problems
// (502/503), anything else from the remote side is a bad gateway.
func writeError(w http.ResponseWriter, err error) {
	var ve *forwarder.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation"})
	case ticktick.IsAuth(err):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "auth"})
	default:
		if _, ok := ticktick.IsRateLimit(err); ok {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "rate_limit"})
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "remote"})
	}
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req forwarder.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "validation"})
		return
	}

	task, err := h.commands.CreateTask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *handler) updateTask(w http.ResponseWriter, r *http.Request) {
	var req forwarder.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "validation"})
		return
	}
	req.TaskID = mux.Vars(r)["taskID"]

	task, err := h.commands.UpdateTask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handler) completeTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	projectID := r.URL.Query().Get("project_id")

	if err := h.commands.CompleteTask(r.Context(), projectID, taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "task_id": taskID})
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	projectID := r.URL.Query().Get("project_id")

	if err := h.commands.DeleteTask(r.Context(), projectID, taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "task_id": taskID})
}

func (h *handler) createSubtask(w http.ResponseWriter, r *http.Request) {
	var req forwarder.SubtaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "validation"})
		return
	}
	req.ParentTaskID = mux.Vars(r)["taskID"]

	task, err := h.commands.CreateSubtask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// taskView is the JSON projection of one task on status endpoints.
type taskView struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Priority string     `json:"priority"`
	IsAllDay bool       `json:"is_all_day,omitempty"`
	Complete bool       `json:"completed,omitempty"`
	ParentID string     `json:"parent_id,omitempty"`
}

// projectView mirrors what the original integration exposed per project:
// the open-task count as the state, overdue/due-today as attributes.
type projectView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Color     string     `json:"color,omitempty"`
	TaskCount int        `json:"task_count"`
	Overdue   int        `json:"overdue_count"`
	DueToday  int        `json:"due_today_count"`
	Tasks     []taskView `json:"tasks"`
}

func viewTask(t snapshot.Task) taskView {
	return taskView{
		ID:       t.ID,
		Title:    t.Title,
		DueDate:  t.Due,
		Priority: snapshot.PriorityName(t.Priority),
		IsAllDay: t.IsAllDay,
		Complete: t.Completed,
		ParentID: t.ParentID,
	}
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	s := h.status.Snapshot()
	if s == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no snapshot yet", Code: "not_ready"})
		return
	}

	now := time.Now()
	views := make([]projectView, 0, len(s.Projects))
	for _, p := range s.Projects {
		v := projectView{
			ID:        p.ID,
			Name:      p.Name,
			Color:     p.Color,
			TaskCount: p.TaskCount(),
			Overdue:   p.OverdueCount(now),
			DueToday:  p.DueTodayCount(now),
			Tasks:     make([]taskView, 0, len(p.Tasks)),
		}
		for _, t := range p.Tasks {
			if t.Completed && !h.includeCompleted {
				continue
			}
			v.Tasks = append(v.Tasks, viewTask(t))
		}
		views = append(views, v)
	}

	// Stable order for consumers.
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) agenda(w http.ResponseWriter, r *http.Request) {
	s := h.status.Snapshot()
	if s == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no snapshot yet", Code: "not_ready"})
		return
	}

	days := 7
	if param := r.URL.Query().Get("days"); param != "" {
		n, err := strconv.Atoi(param)
		if err != nil || n < 1 || n > 365 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "days must be 1-365", Code: "validation"})
			return
		}
		days = n
	}

	now := time.Now()
	upcoming := s.Upcoming(now, now.AddDate(0, 0, days))

	views := make([]taskView, 0, len(upcoming))
	for _, t := range upcoming {
		views = append(views, viewTask(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	health := h.status.Health()
	status := http.StatusOK
	if !health.Available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if param := r.URL.Query().Get("limit"); param != "" {
		n, err := strconv.Atoi(param)
		if err != nil || n < 1 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be 1-1000", Code: "validation"})
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(limit)
	if err != nil {
		h.logger.Printf("Failed to read journal: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "journal read failed"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
