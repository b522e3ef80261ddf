package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/postpipe/postpipe/cmd/postpipe/commands"
	"github.com/postpipe/postpipe/logger"
)

var rootCmd = &cobra.Command{
	Use:   "postpipe",
	Short: "postpipe - scheduled social post publisher",
	Long: `postpipe - schedule posts for future publication.

Posts are stored durably and published by the dispatcher once due,
whether it runs as a daemon or from cron.

Available commands:
  schedule - Schedule a post for future publication
  jobs     - List, inspect, and cancel scheduled jobs
  dispatch - Run the dispatcher (daemon or single pass)
  db       - Manage the job database

Examples:
  postpipe schedule --at 2026-09-01T09:00:00Z --file post.json
  postpipe jobs ls
  postpipe jobs cancel 4f7c2f0a-...
  postpipe dispatch start     # daemon mode
  postpipe dispatch once      # single pass, for cron`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON structured logs")

	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.DispatchCmd)
	rootCmd.AddCommand(commands.DbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
