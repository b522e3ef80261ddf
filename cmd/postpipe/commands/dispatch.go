package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postpipe/postpipe/config"
	"github.com/postpipe/postpipe/logger"
	"github.com/postpipe/postpipe/platform"
	"github.com/postpipe/postpipe/scheduler"
)

// tokenPath is the platform's OAuth token endpoint, relative to the API base
const tokenPath = "/oauth/v2/accessToken"

// DispatchCmd groups dispatcher operation modes
var DispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the dispatcher that publishes due posts",
	Long: `Run the dispatcher that publishes due posts.

Two modes:
  start - long-running daemon, polls on a fixed cadence
  once  - single pass over currently due jobs, then exit (for cron)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// DispatchStartCmd runs the dispatcher as a daemon
var DispatchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dispatcher daemon",
	Long: `Start the dispatcher in foreground mode. It polls the job
store on the configured cadence and publishes due posts until
interrupted (Ctrl+C). An in-flight publish is allowed to resolve
before shutdown completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDispatch(false)
	},
}

// DispatchOnceCmd runs a single dispatcher pass
var DispatchOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one dispatcher pass and exit",
	Long: `Claim and publish all currently due jobs, then exit.
Intended for cron:

  */5 * * * * postpipe dispatch once`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDispatch(true)
	},
}

func init() {
	DispatchCmd.AddCommand(DispatchStartCmd)
	DispatchCmd.AddCommand(DispatchOnceCmd)
}

func runDispatch(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher, err := platform.NewRESTPublisher(cfg.Platform.APIBaseURL, cfg.Platform.RequestsPerMinute, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	tokens := platform.NewRefreshingTokenSource(
		platform.NewCredentialFile(cfg.Platform.CredentialsPath),
		cfg.Platform.APIBaseURL+tokenPath,
		cfg.Platform.ClientID,
		cfg.Platform.ClientSecret,
		logger.Logger,
	)

	store := scheduler.NewStore(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := scheduler.NewDispatcherWithContext(ctx, store, tokens, publisher, cfg.Dispatcher, logger.Logger)

	if once {
		return dispatcher.Tick(ctx, time.Now())
	}

	dispatcher.Start()
	fmt.Printf("Dispatcher running (poll every %s, batch %d). Ctrl+C to stop.\n",
		cfg.Dispatcher.PollInterval(), cfg.Dispatcher.BatchSize)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	dispatcher.Stop()
	return nil
}
