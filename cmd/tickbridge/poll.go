package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/marco308/ticktick-bridge/internal/poller"
	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ui"
)

var pollJSON bool

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch the account once and print it",
	Long: `Fetch all projects and tasks once, without starting the daemon.

Prints every project with its open tasks, plus the due-soon events the
configured window would emit right now.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		logger := newLogger("poll")

		client, err := newClient(cmd.Context(), cfg, logger)
		if err != nil {
			fatalf("%v", err)
		}

		fetch := poller.NewFetcher(client, logger)
		snap, err := fetch(cmd.Context())
		if err != nil {
			fatalf("poll failed: %v", err)
		}

		events := snapshot.Diff(nil, snap, time.Now(), cfg.DueSoonWindow())

		if pollJSON {
			out := struct {
				Projects map[string]*snapshot.Project `json:"projects"`
				Events   []snapshot.Event             `json:"events"`
			}{snap.Projects, events}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				fatalf("%v", err)
			}
			return
		}

		printSnapshot(snap)

		if len(events) > 0 {
			fmt.Println()
			fmt.Println(ui.Title("Due soon"))
			for _, ev := range events {
				fmt.Printf("  %s %s\n", ui.Warn(fmt.Sprintf("in %dm", ev.MinutesUntilDue)), ev.Title)
			}
		}
	},
}

func printSnapshot(snap *snapshot.Snapshot) {
	ids := make([]string, 0, len(snap.Projects))
	for id := range snap.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i, id := range ids {
		p := snap.Projects[id]
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(ui.ProjectHeader(p))
		for _, t := range p.Tasks {
			fmt.Println(ui.TaskLine(t))
		}
	}
}

func init() {
	pollCmd.Flags().BoolVar(&pollJSON, "json", false, "print the snapshot and events as JSON")
}
