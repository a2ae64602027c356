package snapshot

import "time"

// EventType identifies the kind of change an Event describes.
type EventType string

const (
	// EventTaskCreated fires for a task present in the current snapshot
	// but absent from the previous one.
	EventTaskCreated EventType = "task_created"

	// EventTaskCompleted fires when a task's completion flag flips from
	// false to true between two snapshots.
	EventTaskCompleted EventType = "task_completed"

	// EventTaskDueSoon fires every cycle for each open task whose due
	// date falls inside the lookahead window. It is intentionally not
	// deduplicated across cycles; consumers own their idempotence.
	EventTaskDueSoon EventType = "task_due_soon"
)

// Event is one semantic change derived from comparing two snapshots.
// Fields beyond Type, TaskID, ProjectID and Title are populated per type.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`

	// DueDate is set on created and due-soon events when the task has one.
	DueDate *time.Time `json:"due_date,omitempty"`

	// Priority is set on created events.
	Priority int `json:"priority,omitempty"`

	// CompletedAt is set on completed events: the remote-reported
	// completion time when available, the poll time otherwise.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// MinutesUntilDue is set on due-soon events: floor of the remaining
	// time in minutes.
	MinutesUntilDue int `json:"minutes_until_due,omitempty"`
}

// Diff compares the previous snapshot against the current one and returns
// the implied events in a stable order: created first (in current task
// order), then completed, then due-soon.
//
// A nil or empty prev means this is the first poll since process start. No
// created or completed events are produced in that case, so a restart never
// floods consumers with the whole backlog; due-soon events are still
// evaluated.
//
// Tasks present in prev but absent from curr are deletions and produce no
// event. The due-soon window [now, now+window] is inclusive at both ends.
func Diff(prev, curr *Snapshot, now time.Time, window time.Duration) []Event {
	var created, completed, dueSoon []Event

	firstPoll := prev == nil || len(prev.Projects) == 0

	var prevTasks map[string]Task
	if !firstPoll {
		prevTasks = prev.index()
	}

	for _, task := range curr.Tasks() {
		if !firstPoll {
			before, known := prevTasks[task.ID]
			switch {
			case !known:
				created = append(created, Event{
					Type:      EventTaskCreated,
					TaskID:    task.ID,
					ProjectID: task.ProjectID,
					Title:     task.Title,
					DueDate:   task.Due,
					Priority:  task.Priority,
				})
			case !before.Completed && task.Completed:
				completedAt := task.CompletedAt
				if completedAt == nil {
					t := now
					completedAt = &t
				}
				completed = append(completed, Event{
					Type:        EventTaskCompleted,
					TaskID:      task.ID,
					ProjectID:   task.ProjectID,
					Title:       task.Title,
					CompletedAt: completedAt,
				})
			}
		}

		if task.Completed || task.Due == nil {
			continue
		}
		remaining := task.Due.Sub(now)
		if remaining >= 0 && remaining <= window {
			dueSoon = append(dueSoon, Event{
				Type:            EventTaskDueSoon,
				TaskID:          task.ID,
				ProjectID:       task.ProjectID,
				Title:           task.Title,
				DueDate:         task.Due,
				MinutesUntilDue: int(remaining.Minutes()),
			})
		}
	}

	events := make([]Event, 0, len(created)+len(completed)+len(dueSoon))
	events = append(events, created...)
	events = append(events, completed...)
	events = append(events, dueSoon...)
	return events
}
