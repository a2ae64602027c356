// Package snapshot holds the in-memory model of remote TickTick state and
// the diff logic that turns two consecutive snapshots into semantic events.
//
// A Snapshot is a full point-in-time view of every project and its tasks.
// Snapshots are immutable values: each poll cycle builds a fresh one and the
// previous one is discarded after diffing. Nothing in this package touches
// the network or the clock; time is always passed in.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Priority levels as reported by the TickTick API.
const (
	PriorityNone   = 0
	PriorityLow    = 1
	PriorityMedium = 3
	PriorityHigh   = 5
)

var priorityNames = map[int]string{
	PriorityNone:   "none",
	PriorityLow:    "low",
	PriorityMedium: "medium",
	PriorityHigh:   "high",
}

// PriorityName returns the string form of a priority ordinal.
// Unknown ordinals map to "none".
func PriorityName(p int) string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "none"
}

// ParsePriority maps a priority name to its ordinal. The empty string is
// treated as "none". Unrecognized names are an error, never coerced.
func ParsePriority(name string) (int, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return PriorityNone, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return 0, fmt.Errorf("unknown priority %q (want none, low, medium or high)", name)
	}
}

// Task is one task as observed at a poll instant.
type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Content     string
	Due         *time.Time
	Priority    int
	IsAllDay    bool
	Completed   bool
	CompletedAt *time.Time

	// ParentID references the parent task for subtasks. A dangling
	// reference is a data-integrity anomaly on the remote side and is
	// tolerated everywhere in this package.
	ParentID string
}

// Overdue reports whether the task has a due date in the past.
func (t *Task) Overdue(now time.Time) bool {
	return !t.Completed && t.Due != nil && t.Due.Before(now)
}

// DueToday reports whether the task is due on the same calendar day as now.
func (t *Task) DueToday(now time.Time) bool {
	if t.Completed || t.Due == nil {
		return false
	}
	y1, m1, d1 := t.Due.Local().Date()
	y2, m2, d2 := now.Local().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Project is one TickTick project and the tasks it owned at the poll instant.
type Project struct {
	ID    string
	Name  string
	Color string
	Tasks []Task
}

// TaskCount returns the number of open tasks in the project.
func (p *Project) TaskCount() int {
	n := 0
	for i := range p.Tasks {
		if !p.Tasks[i].Completed {
			n++
		}
	}
	return n
}

// OverdueCount returns the number of open tasks whose due date has passed.
func (p *Project) OverdueCount(now time.Time) int {
	n := 0
	for i := range p.Tasks {
		if p.Tasks[i].Overdue(now) {
			n++
		}
	}
	return n
}

// DueTodayCount returns the number of open tasks due on the current day.
func (p *Project) DueTodayCount(now time.Time) int {
	n := 0
	for i := range p.Tasks {
		if p.Tasks[i].DueToday(now) {
			n++
		}
	}
	return n
}

// Snapshot is the full remote state observed at one poll instant, keyed by
// project ID.
type Snapshot struct {
	Projects map[string]*Project

	// Taken is when the snapshot was fetched.
	Taken time.Time
}

// New returns an empty snapshot taken at the given time.
func New(taken time.Time) *Snapshot {
	return &Snapshot{
		Projects: make(map[string]*Project),
		Taken:    taken,
	}
}

// Tasks returns every task in the snapshot in a stable order: projects
// sorted by ID, tasks in project order. Task IDs are unique across the
// union of all projects, so the result has no duplicates.
func (s *Snapshot) Tasks() []Task {
	ids := make([]string, 0, len(s.Projects))
	for id := range s.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var tasks []Task
	for _, id := range ids {
		tasks = append(tasks, s.Projects[id].Tasks...)
	}
	return tasks
}

// Task looks up a task by ID across all projects.
func (s *Snapshot) Task(id string) (Task, bool) {
	for _, p := range s.Projects {
		for i := range p.Tasks {
			if p.Tasks[i].ID == id {
				return p.Tasks[i], true
			}
		}
	}
	return Task{}, false
}

// ProjectByName returns the first project whose name matches
// case-insensitively.
func (s *Snapshot) ProjectByName(name string) (*Project, bool) {
	for _, p := range s.Projects {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return nil, false
}

// FirstProject returns the project with the lowest ID, used as a fallback
// when no default project can be resolved by name.
func (s *Snapshot) FirstProject() (*Project, bool) {
	var best *Project
	for _, p := range s.Projects {
		if best == nil || p.ID < best.ID {
			best = p
		}
	}
	return best, best != nil
}

// Upcoming returns open tasks with a due date inside [start, end], sorted by
// due date. Used by the agenda endpoint.
func (s *Snapshot) Upcoming(start, end time.Time) []Task {
	var tasks []Task
	for _, t := range s.Tasks() {
		if t.Completed || t.Due == nil {
			continue
		}
		if t.Due.Before(start) || t.Due.After(end) {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Due.Before(*tasks[j].Due)
	})
	return tasks
}

// index returns a map of task ID to task over the union of all projects.
func (s *Snapshot) index() map[string]Task {
	idx := make(map[string]Task)
	for _, p := range s.Projects {
		for i := range p.Tasks {
			idx[p.Tasks[i].ID] = p.Tasks[i]
		}
	}
	return idx
}
