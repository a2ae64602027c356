package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ticktick"
)

// API is the slice of the TickTick client the fetcher needs.
type API interface {
	GetProjects(ctx context.Context) ([]ticktick.Project, error)
	GetProjectData(ctx context.Context, projectID string) (*ticktick.ProjectData, error)
}

// NewFetcher builds a FetchFunc that lists all projects and their tasks.
//
// A failure listing projects aborts the cycle. A failure fetching one
// project's tasks degrades that project to an empty task list so a single
// flaky project cannot poison the whole snapshot — except auth failures,
// which abort the cycle so re-authorization surfaces immediately.
func NewFetcher(api API, logger *log.Logger) FetchFunc {
	return func(ctx context.Context) (*snapshot.Snapshot, error) {
		projects, err := api.GetProjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		s := snapshot.New(time.Now())
		for _, proj := range projects {
			p := &snapshot.Project{
				ID:    proj.ID,
				Name:  proj.Name,
				Color: proj.Color,
			}

			data, err := api.GetProjectData(ctx, proj.ID)
			switch {
			case ticktick.IsAuth(err):
				return nil, fmt.Errorf("failed to fetch project %s: %w", proj.ID, err)
			case err != nil:
				logger.Printf("Warning: failed to fetch tasks for project %s: %v", proj.ID, err)
			default:
				p.Tasks = convertTasks(data.Tasks)
			}

			s.Projects[proj.ID] = p
		}

		return s, nil
	}
}

func convertTasks(tasks []ticktick.Task) []snapshot.Task {
	out := make([]snapshot.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, snapshot.Task{
			ID:          t.ID,
			ProjectID:   t.ProjectID,
			Title:       t.Title,
			Content:     t.Content,
			Due:         t.Due(),
			Priority:    t.Priority,
			IsAllDay:    t.IsAllDay,
			Completed:   t.Completed(),
			CompletedAt: t.CompletedAt(),
			ParentID:    t.ParentID,
		})
	}
	return out
}
