// tickbridge bridges a TickTick account onto a local event bus and HTTP
// API: it polls the TickTick Open API, diffs successive snapshots into
// task events, and forwards task commands back.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marco308/ticktick-bridge/internal/config"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "tickbridge",
	Short:   "TickTick task bridge",
	Version: version,
	Long: `tickbridge mirrors a TickTick account as a local event stream.

It polls the TickTick Open API on an interval, diffs each snapshot
against the previous one and emits task_created, task_completed and
task_due_soon events over a WebSocket bus. A small HTTP API forwards
task commands (create, update, complete, delete) back to TickTick and
triggers an immediate re-poll so the next snapshot reflects them.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/tickbridge/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(projectsCmd)
}

// loadConfig resolves the --config flag and reads the file.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
