package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskbell/pkg/auth"
	"github.com/harrisonrobin/taskbell/pkg/config"
	"github.com/harrisonrobin/taskbell/pkg/history"
	"github.com/harrisonrobin/taskbell/pkg/markdown"
	"github.com/harrisonrobin/taskbell/pkg/model"
	"github.com/harrisonrobin/taskbell/pkg/scheduler"
	"github.com/harrisonrobin/taskbell/pkg/server"
	"github.com/harrisonrobin/taskbell/pkg/vault"
)

// openApp loads and validates the config and wires the scheduler.
func openApp(ctx context.Context, cmd *cobra.Command, opts *options) (*app, error) {
	logger := slog.Default()
	live, err := loadLiveConfig(opts.configPath, logger)
	if err != nil {
		return nil, err
	}
	if err := live.Get().Validate(); err != nil {
		return nil, fmt.Errorf("%w (config: %s)", err, opts.configPath)
	}
	return newApp(ctx, live, cmd.OutOrStdout(), logger)
}

func newRunCmd(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the vault and send notifications until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Warn("failed to save state", "error", err)
				}
			}()

			cfg := a.live.Get()
			if listen == "" {
				listen = cfg.Listen
			}
			if listen != "" {
				var hist server.History
				if a.store != nil {
					hist = a.store
				}
				srv := server.NewServer(a, hist, slog.Default())
				go func() {
					if err := srv.Run(ctx, listen); err != nil {
						slog.Error("status API stopped", "error", err)
					}
				}()
			}

			slog.Info("watching vault", "vault", cfg.VaultPath, "interval", cfg.PollInterval, "subscriptions", len(cfg.Subscriptions))
			err = a.sched.Run(ctx, cfg.PollInterval, a.live.Settings)
			if errors.Is(err, context.Canceled) {
				slog.Info("shutting down")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Serve the status API on this address (overrides config).")
	return cmd
}

func newTickCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run a single scan and dispatch cycle.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Tick(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tick report as JSON.")
	return cmd
}

func newScanCmd(opts *options) *cobra.Command {
	var (
		asJSON   bool
		tag      string
		dueToday bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the tasks found in the vault.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			sched := scheduler.New(vault.NewDir(cfg.VaultPath), nil, nil, slog.Default())
			scan, err := sched.Scan(cmd.Context(), cfg.Settings())
			if err != nil {
				return err
			}
			tasks := markdown.FilterTasks(scan.Tasks, tag)
			if dueToday {
				today := model.DateOf(time.Now())
				var due []model.Task
				for _, t := range tasks {
					if t.DueOn(today) {
						due = append(due, t)
					}
				}
				tasks = due
			}

			if asJSON {
				if tasks == nil {
					tasks = []model.Task{}
				}
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print tasks as JSON.")
	cmd.Flags().StringVar(&tag, "tag", "", "Only list tasks carrying this tag.")
	cmd.Flags().BoolVar(&dueToday, "due-today", false, "Only list tasks due today.")
	return cmd
}

func newSubscribeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <tag> <target>",
		Short: "Send tasks carrying a tag to a target.",
		Long: `Subscribe routes tasks that carry <tag> to <target>. A target is an ntfy topic, a full
ntfy topic URL, or gcal:<calendar name> for a Google calendar. The tag gets a leading '#'
if it has none.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editConfig(opts.configPath, func(cfg *config.Config) error {
				if err := cfg.Subscribe(args[0], args[1]); err != nil {
					return err
				}
				cmd.Printf("Subscribed %s to %s\n", config.NormalizeTag(args[0]), args[1])
				return nil
			})
		},
	}
}

func newUnsubscribeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <tag>",
		Short: "Stop sending tasks carrying a tag.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editConfig(opts.configPath, func(cfg *config.Config) error {
				tag := config.NormalizeTag(args[0])
				if !cfg.Unsubscribe(tag) {
					return fmt.Errorf("no subscription for %s", tag)
				}
				cmd.Printf("Unsubscribed %s\n", tag)
				return nil
			})
		},
	}
}

func newSubscriptionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions",
		Short: "List the configured subscriptions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			subs := cfg.SubscriptionMap()
			if len(subs) == 0 {
				cmd.Println("No subscriptions.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, tag := range subs.Filters() {
				fmt.Fprintf(w, "%s\t%s\n", tag, subs[tag])
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dispatches.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.HistoryDB == "" {
				return fmt.Errorf("history is disabled (history_db is empty)")
			}
			store, err := history.Open(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			dispatches, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(dispatches) == 0 {
				cmd.Println("No dispatches recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range dispatches {
				status := "sent"
				if !d.Delivered {
					status = "failed: " + d.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.SentAt.Local().Format("2006-01-02 15:04"), d.Target, d.Description, status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of dispatches to show.")
	return cmd
}

func newInitCmd(opts *options) *cobra.Command {
	var (
		vaultPath string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("config %s already exists (use --force to overwrite)", opts.configPath)
			}
			cfg := config.DefaultConfig()
			cfg.VaultPath = vaultPath
			if err := config.Save(opts.configPath, cfg); err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", opts.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&vaultPath, "vault", "", "Path to the vault of markdown notes.")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config.")
	return cmd
}

func newAuthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Calendar.",
		Long: `auth runs the OAuth flow for the desktop client in credentials.json and caches the
token next to it. Service account keys need no authorization.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := auth.Authorize(cmd.Context(), cfg.CredentialsDir, auth.CalendarScopes, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			cmd.Printf("Authentication successful, token saved in %s\n", cfg.CredentialsDir)
			return nil
		},
	}
}

func editConfig(path string, edit func(cfg *config.Config) error) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := edit(cfg); err != nil {
		return err
	}
	return config.Save(path, cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r *scheduler.Report) {
	fmt.Fprintf(w, "Scanned %d documents (%d excluded, %d unreadable), %d tasks, %d due today.\n",
		r.Documents, r.Excluded, len(r.ReadErrors), r.Tasks, r.Due)
	fmt.Fprintf(w, "Dispatched %d (%d failed), %d suppressed by cooldown.\n", len(r.Results), r.Failed(), r.Suppressed)
	for _, res := range r.Results {
		if res.Delivered {
			fmt.Fprintf(w, "  sent    %s -> %s\n", res.Description, res.Target)
		} else {
			fmt.Fprintf(w, "  failed  %s -> %s: %s\n", res.Description, res.Target, res.Error)
		}
	}
}

func printTasks(w io.Writer, tasks []model.Task) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range tasks {
		due := ""
		if t.Due != nil {
			due = t.Due.String()
		}
		loc := ""
		if t.Source != nil {
			loc = fmt.Sprintf("%s:%d", t.Source.DocumentID, t.Source.Line)
		}
		fmt.Fprintf(tw, "[%s]\t%s\t%s\t%s\t%s\t%s\n", t.Status, t.Description, due, t.Priority, strings.Join(t.Tags, " "), loc)
	}
	tw.Flush()
}
