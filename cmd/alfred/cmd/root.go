// Package cmd provides the CLI commands for Alfred.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/rhymu8354/alfred/internal/logging"
	"github.com/rhymu8354/alfred/internal/service"
)

var (
	storePath string
	daemon    bool
)

var rootCmd = &cobra.Command{
	Use:   "alfred",
	Short: "Alfred holds a hierarchical state document and serves it over HTTP and WebSocket",
	Long: `Alfred is a long-running service that holds a single, hierarchical,
JSON-shaped state document in memory, persists it to a file, and exposes
it to many concurrent clients over two channels: a request/response
HTTP(S) API for read-only queries, and a WebSocket API for authenticated,
subscription-based live read access.

  alfred -s ./alfred.json
  alfred --store /etc/alfred/state.json --daemon`,
	RunE:          runRoot,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&storePath, "store", "s", "./alfred.json", "path to the store file")
	rootCmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "daemon mode flag; recorded in the startup log, the process is not detached from the terminal")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "warning: ignoring extra arguments: %v\n", args)
	}

	logger := slog.New(logging.NewHandler(os.Stderr, slog.LevelInfo))

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	return service.Run(ctx, service.Options{
		StorePath: storePath,
		Daemon:    daemon,
		Logger:    logger,
	})
}
