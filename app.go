package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/harrisonrobin/taskbell/pkg/colors"
	"github.com/harrisonrobin/taskbell/pkg/config"
	"github.com/harrisonrobin/taskbell/pkg/cooldown"
	"github.com/harrisonrobin/taskbell/pkg/google"
	"github.com/harrisonrobin/taskbell/pkg/history"
	"github.com/harrisonrobin/taskbell/pkg/index"
	"github.com/harrisonrobin/taskbell/pkg/notify"
	"github.com/harrisonrobin/taskbell/pkg/scheduler"
	"github.com/harrisonrobin/taskbell/pkg/vault"
)

const calendarPrefix = "gcal"

// app is a scheduler wired to the sinks and stores named by the configuration.
type app struct {
	sched    *scheduler.Scheduler
	store    *history.Store // nil when history is disabled
	calendar *google.CalendarSink
	live     *liveConfig
	logger   *slog.Logger
}

// newApp builds the scheduler for cfg. Calendar credentials are only loaded when a
// subscription targets a calendar.
func newApp(ctx context.Context, live *liveConfig, out io.Writer, logger *slog.Logger) (*app, error) {
	cfg := live.Get()
	a := &app{live: live, logger: logger}

	router := &notify.Router{
		Routes:   make(map[string]notify.Sink),
		Fallback: notify.NewNtfy(cfg.NtfyServer, cfg.RequestTimeout, logger),
	}
	if usesCalendar(cfg) {
		sink, err := newCalendarSink(ctx, cfg, logger)
		if err != nil {
			logger.Warn("calendar targets are unavailable", "error", err)
			router.Routes[calendarPrefix] = unavailableSink{err: err}
		} else {
			a.calendar = sink
			router.Routes[calendarPrefix] = sink
		}
	}

	a.sched = scheduler.New(vault.NewDir(cfg.VaultPath), router, &notify.WriterNotifier{W: out}, logger)

	if cfg.CooldownFile != "" {
		table, err := cooldown.NewTable(cfg.CooldownFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load cooldown table: %w", err)
		}
		a.sched.Cooldown = table
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			logger.Warn("dispatch history disabled", "path", cfg.HistoryDB, "error", err)
		} else {
			a.store = store
		}
	}
	a.sched.Recorder = a
	return a, nil
}

func newCalendarSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*google.CalendarSink, error) {
	idx, err := index.NewEventIndex(cfg.CalendarIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to load event index: %w", err)
	}
	palette, err := colors.NewColorCache(cfg.CalendarColors)
	if err != nil {
		logger.Warn("could not load color cache", "error", err)
		palette, _ = colors.NewColorCache("")
	}
	return google.NewClient(ctx, cfg.CredentialsDir, idx, palette, logger)
}

func usesCalendar(cfg *config.Config) bool {
	for _, s := range cfg.Subscriptions {
		if strings.HasPrefix(s.Target, calendarPrefix+":") {
			return true
		}
	}
	return false
}

// Tick, Scan and LastReport bind the current settings so that app satisfies server.Engine.
func (a *app) Tick(ctx context.Context) (*scheduler.Report, error) {
	return a.sched.Tick(ctx, a.live.Settings())
}

func (a *app) Scan(ctx context.Context) (*vault.Scan, error) {
	return a.sched.Scan(ctx, a.live.Settings())
}

func (a *app) LastReport() *scheduler.Report {
	return a.sched.LastReport()
}

// Record saves the calendar state after every tick and appends the report to the history.
func (a *app) Record(ctx context.Context, r *scheduler.Report) error {
	a.persist()
	if a.store == nil {
		return nil
	}
	return a.store.Record(ctx, r)
}

func (a *app) persist() {
	if a.calendar != nil {
		if err := a.calendar.Save(); err != nil {
			a.logger.Warn("failed to save calendar state", "error", err)
		}
	}
}

func (a *app) Close() error {
	a.persist()
	var errs []error
	if err := a.sched.Cooldown.Save(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// unavailableSink fails every delivery with the error that prevented the real sink from
// being built.
type unavailableSink struct{ err error }

func (u unavailableSink) Send(ctx context.Context, target string, msg notify.Message) error {
	return &notify.DeliveryError{Target: calendarPrefix + ":" + target, Err: u.err}
}

// liveConfig reloads the config file when it changes on disk.
type liveConfig struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	cfg     *config.Config
	modTime time.Time
}

func loadLiveConfig(path string, logger *slog.Logger) (*liveConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	lc := &liveConfig{path: path, logger: logger, cfg: cfg}
	if info, err := os.Stat(path); err == nil {
		lc.modTime = info.ModTime()
	}
	return lc, nil
}

func (lc *liveConfig) Get() *config.Config {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.reloadLocked()
	return lc.cfg
}

func (lc *liveConfig) Settings() scheduler.Settings {
	return lc.Get().Settings()
}

func (lc *liveConfig) reloadLocked() {
	info, err := os.Stat(lc.path)
	if err != nil || !info.ModTime().After(lc.modTime) {
		return
	}
	cfg, err := config.Load(lc.path)
	if err == nil {
		err = cfg.Validate()
	}
	lc.modTime = info.ModTime()
	if err != nil {
		lc.logger.Warn("ignoring invalid config change", "path", lc.path, "error", err)
		return
	}
	lc.logger.Info("config reloaded", "path", lc.path)
	lc.cfg = cfg
}
