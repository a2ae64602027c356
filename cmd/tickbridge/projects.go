package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marco308/ticktick-bridge/internal/poller"
	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ui"
)

var projectsJSON bool

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects with task counts",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		logger := newLogger("projects")

		client, err := newClient(cmd.Context(), cfg, logger)
		if err != nil {
			fatalf("%v", err)
		}

		fetch := poller.NewFetcher(client, logger)
		snap, err := fetch(cmd.Context())
		if err != nil {
			fatalf("fetch failed: %v", err)
		}

		if projectsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snap.Projects); err != nil {
				fatalf("%v", err)
			}
			return
		}

		ids := make([]string, 0, len(snap.Projects))
		for id := range snap.Projects {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			p := snap.Projects[id]
			fmt.Printf("%s  %s\n", ui.ProjectHeader(p), ui.Muted(projectDetail(p)))
		}
	},
}

func projectDetail(p *snapshot.Project) string {
	return fmt.Sprintf("id=%s", p.ID)
}

func init() {
	projectsCmd.Flags().BoolVar(&projectsJSON, "json", false, "print projects as JSON")
}
