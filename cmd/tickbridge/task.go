package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marco308/ticktick-bridge/internal/forwarder"
	"github.com/marco308/ticktick-bridge/internal/poller"
	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, update, complete and delete tasks",
}

var (
	taskProject  string
	taskContent  string
	taskDue      string
	taskPriority string
	taskAllDay   bool
	taskTitle    string
)

// liveSource holds a freshly fetched snapshot, so the one-shot commands
// resolve the default project the same way the daemon does.
type liveSource struct {
	snap *snapshot.Snapshot
}

func (s *liveSource) Snapshot() *snapshot.Snapshot { return s.snap }

// newForwarder builds a forwarder for one-shot use. withSource controls
// whether a snapshot is fetched for default-project resolution.
func newForwarder(cmd *cobra.Command, withSource bool) (*forwarder.Forwarder, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger("task")

	client, err := newClient(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}

	var source forwarder.SnapshotSource
	if withSource {
		fetch := poller.NewFetcher(client, logger)
		snap, err := fetch(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch projects: %w", err)
		}
		source = &liveSource{snap: snap}
	}

	return forwarder.New(client, source, nil, logger), nil
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>...",
	Short: "Create a task",
	Long: `Create a task.

Without --project the task lands in the Inbox. --due accepts RFC 3339
timestamps or natural language ("tomorrow at 5pm").`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Only resolve a default project when none was given.
		fwd, err := newForwarder(cmd, taskProject == "")
		if err != nil {
			fatalf("%v", err)
		}

		task, err := fwd.CreateTask(cmd.Context(), forwarder.CreateRequest{
			Title:     strings.Join(args, " "),
			ProjectID: taskProject,
			Content:   taskContent,
			Due:       taskDue,
			Priority:  taskPriority,
			AllDay:    taskAllDay,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.Success("Created " + task.Title))
		fmt.Println(ui.Muted(fmt.Sprintf("id=%s project=%s", task.ID, task.ProjectID)))
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fwd, err := newForwarder(cmd, false)
		if err != nil {
			fatalf("%v", err)
		}

		task, err := fwd.UpdateTask(cmd.Context(), forwarder.UpdateRequest{
			TaskID:    args[0],
			ProjectID: taskProject,
			Title:     taskTitle,
			Content:   taskContent,
			Due:       taskDue,
			Priority:  taskPriority,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.Success("Updated " + task.Title))
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a task complete",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fwd, err := newForwarder(cmd, false)
		if err != nil {
			fatalf("%v", err)
		}
		if err := fwd.CompleteTask(cmd.Context(), taskProject, args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.Success("Completed " + args[0]))
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fwd, err := newForwarder(cmd, false)
		if err != nil {
			fatalf("%v", err)
		}
		if err := fwd.DeleteTask(cmd.Context(), taskProject, args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.Success("Deleted " + args[0]))
	},
}

var taskSubtaskCmd = &cobra.Command{
	Use:   "subtask <parent-task-id> <title>...",
	Short: "Create a subtask under an existing task",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		fwd, err := newForwarder(cmd, false)
		if err != nil {
			fatalf("%v", err)
		}

		task, err := fwd.CreateSubtask(cmd.Context(), forwarder.SubtaskRequest{
			ParentTaskID: args[0],
			ProjectID:    taskProject,
			Title:        strings.Join(args[1:], " "),
			Content:      taskContent,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.Success("Created subtask " + task.Title))
		fmt.Println(ui.Muted(fmt.Sprintf("id=%s parent=%s", task.ID, task.ParentID)))
	},
}

func init() {
	for _, c := range []*cobra.Command{taskCreateCmd, taskUpdateCmd, taskCompleteCmd, taskDeleteCmd, taskSubtaskCmd} {
		c.Flags().StringVarP(&taskProject, "project", "p", "", "project ID")
		taskCmd.AddCommand(c)
	}
	taskCreateCmd.Flags().StringVar(&taskContent, "content", "", "task description")
	taskCreateCmd.Flags().StringVar(&taskDue, "due", "", "due date (RFC 3339 or natural language)")
	taskCreateCmd.Flags().StringVar(&taskPriority, "priority", "", "priority: none, low, medium or high")
	taskCreateCmd.Flags().BoolVar(&taskAllDay, "all-day", false, "all-day task")

	taskUpdateCmd.Flags().StringVar(&taskTitle, "title", "", "new title")
	taskUpdateCmd.Flags().StringVar(&taskContent, "content", "", "new description")
	taskUpdateCmd.Flags().StringVar(&taskDue, "due", "", "new due date")
	taskUpdateCmd.Flags().StringVar(&taskPriority, "priority", "", "new priority")

	taskSubtaskCmd.Flags().StringVar(&taskContent, "content", "", "subtask description")
}
