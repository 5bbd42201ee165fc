package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskbell/pkg/config"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	verbose    bool
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "taskbell",
		Short: "Notify subscribers about markdown tasks that are due today.",
		Long: `taskbell scans a vault of markdown notes for checkbox tasks, and when a task tagged
with a subscribed tag is due today it publishes a notification to ntfy or adds an
all-day reminder to a Google calendar.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(cmd, opts)
			if opts.configPath == "" {
				path, err := config.GetConfigPath()
				if err != nil {
					return err
				}
				opts.configPath = path
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the config file (default ~/.config/taskbell/config.yaml).")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging.")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON.")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newTickCmd(opts),
		newScanCmd(opts),
		newSubscribeCmd(opts),
		newUnsubscribeCmd(opts),
		newSubscriptionsCmd(opts),
		newHistoryCmd(opts),
		newInitCmd(opts),
		newAuthCmd(opts),
	)
	return rootCmd
}

func setupLogger(cmd *cobra.Command, opts *options) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.logJSON {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOpts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
