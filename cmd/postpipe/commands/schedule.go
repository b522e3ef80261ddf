package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/postpipe/postpipe/logger"
	"github.com/postpipe/postpipe/scheduler"
)

// ScheduleCmd schedules a post for future publication
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule a post for future publication",
	Long: `Schedule a post for future publication.

The post payload is JSON in the platform's post schema; postpipe
stores it opaquely and forwards it verbatim at publish time.

A due time in the past is accepted: the post publishes on the
dispatcher's next pass.

Examples:
  postpipe schedule --at 2026-09-01T09:00:00Z --file post.json
  postpipe schedule --at 2026-09-01T09:00:00Z --text "Shipping day!"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dueAt, _ := cmd.Flags().GetString("at")
		file, _ := cmd.Flags().GetString("file")
		text, _ := cmd.Flags().GetString("text")
		return runSchedule(dueAt, file, text)
	},
}

func init() {
	ScheduleCmd.Flags().String("at", "", "Publication time, RFC 3339 (e.g. 2026-09-01T09:00:00Z)")
	ScheduleCmd.Flags().String("file", "", "Path to a JSON payload file")
	ScheduleCmd.Flags().String("text", "", "Shortcut: schedule a text-only post with this commentary")
	ScheduleCmd.MarkFlagRequired("at")
}

func runSchedule(dueAt, file, text string) error {
	payload, err := resolvePayload(file, text)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	service := scheduler.NewService(scheduler.NewStore(database), logger.Logger)
	job, err := service.Schedule(payload, dueAt)
	if err != nil {
		return err
	}

	if job.DueAt.Before(time.Now()) {
		pterm.Warning.Println("Due time is in the past; the post publishes on the next dispatcher pass")
	}

	pterm.Success.Printf("Scheduled %s for %s\n", job.ID, job.DueAt.Format(time.RFC3339))
	return nil
}

// resolvePayload builds the opaque payload from --file or --text.
// Exactly one of the two must be given.
func resolvePayload(file, text string) (json.RawMessage, error) {
	switch {
	case file != "" && text != "":
		return nil, fmt.Errorf("--file and --text are mutually exclusive")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		return data, nil
	case text != "":
		return json.Marshal(map[string]string{
			"commentary": text,
			"visibility": "PUBLIC",
		})
	default:
		return nil, fmt.Errorf("one of --file or --text is required")
	}
}
