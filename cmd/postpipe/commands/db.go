package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postpipe/postpipe/scheduler"
)

// DbCmd groups database operations
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the job database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// DbMigrateCmd applies pending migrations
var DbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply pending schema migrations. Opening the database from
any command migrates automatically; this exists for running
migrations explicitly, e.g. during deploys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		database, err := openDatabase(path)
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Migrations applied")
		return nil
	},
}

// DbStatsCmd prints job counts per state
var DbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per state",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		counts, err := scheduler.NewStore(database).CountByState()
		if err != nil {
			return err
		}

		total := 0
		for _, state := range []scheduler.State{
			scheduler.StatePending,
			scheduler.StateDispatching,
			scheduler.StateCompleted,
			scheduler.StateFailed,
			scheduler.StateCancelled,
		} {
			fmt.Printf("%-12s %d\n", state, counts[state])
			total += counts[state]
		}
		fmt.Printf("%-12s %d\n", "total", total)
		return nil
	},
}

func init() {
	DbMigrateCmd.Flags().String("path", "", "Database path (default: configured path)")

	DbCmd.AddCommand(DbMigrateCmd)
	DbCmd.AddCommand(DbStatsCmd)
}
