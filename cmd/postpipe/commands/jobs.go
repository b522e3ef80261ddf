package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/postpipe/postpipe/logger"
	"github.com/postpipe/postpipe/scheduler"
)

// JobsCmd groups job inspection and cancellation
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List, inspect, and cancel scheduled jobs",
	Long: `Manage scheduled publication jobs.

States:
  pending     - waiting for due time
  dispatching - publish in flight
  completed   - published (terminal)
  failed      - retries exhausted or permanent failure (terminal)
  cancelled   - cancelled before dispatch (terminal)

Terminal jobs are kept for audit; 'jobs ls --all' shows them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists jobs
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List scheduled jobs",
	Long: `List scheduled jobs, by default only live ones (pending or
dispatching).

Examples:
  postpipe jobs ls                  # live jobs
  postpipe jobs ls --all            # every state
  postpipe jobs ls --state failed   # one state
  postpipe jobs ls --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(state, all, limit)
	},
}

// JobsShowCmd shows detail for one job
var JobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full detail for a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsShow(args[0])
	},
}

// JobsCancelCmd cancels a pending job
var JobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending job",
	Long: `Cancel a pending job. A job mid-dispatch or already terminal
cannot be cancelled; to reschedule, cancel the pending job and
schedule a new one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

func init() {
	JobsLsCmd.Flags().String("state", "", "Filter by state (pending, dispatching, completed, failed, cancelled)")
	JobsLsCmd.Flags().Bool("all", false, "Include terminal jobs")
	JobsLsCmd.Flags().Int("limit", 50, "Maximum number of jobs to display")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsShowCmd)
	JobsCmd.AddCommand(JobsCancelCmd)
}

func runJobsLs(state string, all bool, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	filter := scheduler.Filter{Limit: limit}
	switch {
	case state != "":
		filter.States = []scheduler.State{scheduler.State(state)}
	case all:
		// empty filter at the store level selects every state
		jobs, err := scheduler.NewStore(database).List(filter)
		if err != nil {
			return err
		}
		return renderJobsTable(jobs)
	}

	service := scheduler.NewService(scheduler.NewStore(database), logger.Logger)
	jobs, err := service.List(filter)
	if err != nil {
		return err
	}
	return renderJobsTable(jobs)
}

func renderJobsTable(jobs []*scheduler.Job) error {
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	table := pterm.TableData{
		{"JOB ID", "STATE", "DUE AT", "ATTEMPTS", "RESULT / LAST ERROR"},
	}
	for _, job := range jobs {
		detail := job.ResultRef
		if detail == "" {
			detail = truncate(job.LastError, 40)
		}
		table = append(table, []string{
			job.ID,
			string(job.State),
			job.DueAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", job.AttemptCount),
			detail,
		})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(table).Render(); err != nil {
		return err
	}
	fmt.Printf("Total: %d job(s)\n", len(jobs))
	return nil
}

func runJobsShow(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	service := scheduler.NewService(scheduler.NewStore(database), logger.Logger)
	job, err := service.Get(jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job ID: %s\n", job.ID)
	if job.State.Terminal() {
		fmt.Printf("  State: %s (terminal)\n", job.State)
	} else {
		fmt.Printf("  State: %s\n", job.State)
	}
	fmt.Printf("  Due at: %s\n", job.DueAt.Format(time.RFC3339))
	fmt.Printf("  Attempts: %d\n", job.AttemptCount)
	if job.ResultRef != "" {
		fmt.Printf("  Result ref: %s\n", job.ResultRef)
	}
	if job.LastError != "" {
		fmt.Printf("  Last error: %s\n", job.LastError)
	}
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Updated: %s\n", job.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("  Payload: %s\n", truncate(string(job.Payload), 200))
	return nil
}

func runJobsCancel(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	service := scheduler.NewService(scheduler.NewStore(database), logger.Logger)
	if _, err := service.Cancel(jobID); err != nil {
		return err
	}

	pterm.Success.Printf("Cancelled %s\n", jobID)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
