// Package scheduler re-scans the vault on every tick and notifies subscribers about tasks
// due today.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/taskbell/pkg/cooldown"
	"github.com/harrisonrobin/taskbell/pkg/model"
	"github.com/harrisonrobin/taskbell/pkg/notify"
	"github.com/harrisonrobin/taskbell/pkg/vault"
)

// ErrTickInProgress is returned when a tick is requested while another is running.
var ErrTickInProgress = errors.New("tick already in progress")

// CooldownPolicy decides whether a failed delivery starts the cooldown.
type CooldownPolicy string

const (
	// CooldownOnSuccess starts the cooldown only if at least one delivery succeeded.
	CooldownOnSuccess CooldownPolicy = "on-success"
	// CooldownAlways starts the cooldown after any dispatch attempt.
	CooldownAlways CooldownPolicy = "always"
)

// Settings is the configuration a single tick runs with.
type Settings struct {
	Subscriptions model.SubscriptionMap
	Cooldown      time.Duration
	EvictAfter    time.Duration
	Policy        CooldownPolicy
	InApp         bool
	VaultName     string
	Exclude       []string
	Workers       int
}

// Recorder receives every completed tick report.
type Recorder interface {
	Record(ctx context.Context, r *Report) error
}

// Scheduler owns the cooldown table and runs ticks one at a time.
type Scheduler struct {
	Corpus   vault.Corpus
	Sink     notify.Sink
	Notifier notify.Notifier // optional
	Cooldown *cooldown.Table
	Recorder Recorder // optional
	Logger   *slog.Logger
	Now      func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	last    *Report
}

// New returns a scheduler with an in-memory cooldown table.
func New(corpus vault.Corpus, sink notify.Sink, notifier notify.Notifier, logger *slog.Logger) *Scheduler {
	table, _ := cooldown.NewTable("")
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Corpus:   corpus,
		Sink:     sink,
		Notifier: notifier,
		Cooldown: table,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Scan lists the corpus and parses every document that is not excluded.
func (s *Scheduler) Scan(ctx context.Context, settings Settings) (*vault.Scan, error) {
	docs, err := s.Corpus.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	scan := vault.Collect(ctx, s.Corpus, docs, settings.Exclude, settings.Workers)
	for _, re := range scan.ReadErrors {
		s.logger().Warn("skipping unreadable document", "document", re.DocumentID, "error", re.Err)
	}
	return scan, nil
}

// Tick performs one scan-filter-dispatch cycle. It returns ErrTickInProgress without doing
// anything if another tick is running.
func (s *Scheduler) Tick(ctx context.Context, settings Settings) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)

	now := s.now()
	report := &Report{ID: uuid.NewString(), Started: now}
	log := s.logger().With("tick", report.ID)

	scan, err := s.Scan(ctx, settings)
	if err != nil {
		log.Error("tick aborted", "error", err)
		return nil, err
	}
	report.Documents = scan.Documents
	report.Excluded = scan.Excluded
	report.Tasks = len(scan.Tasks)
	for _, re := range scan.ReadErrors {
		report.ReadErrors = append(report.ReadErrors, DocumentError{DocumentID: re.DocumentID, Error: re.Err.Error()})
	}

	today := model.DateOf(now)
	filters := settings.Subscriptions.Filters()
	for _, task := range scan.Tasks {
		if task.Status != model.StatusTodo || !task.DueOn(today) {
			continue
		}
		report.Due++
		s.dispatchTask(ctx, log, settings, filters, task, now, report)
	}

	// An entry younger than the cooldown still suppresses its task.
	if evicted := s.Cooldown.Evict(now, max(settings.EvictAfter, settings.Cooldown)); len(evicted) > 0 {
		log.Debug("evicted cooldown entries", "count", len(evicted))
	}
	if err := s.Cooldown.Save(); err != nil {
		log.Warn("failed to save cooldown table", "error", err)
	}

	report.Finished = s.now()
	if s.Recorder != nil {
		if err := s.Recorder.Record(ctx, report); err != nil {
			log.Warn("failed to record tick", "error", err)
		}
	}
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	log.Info("tick complete",
		"documents", report.Documents,
		"tasks", report.Tasks,
		"due", report.Due,
		"dispatched", len(report.Results),
		"failed", report.Failed(),
		"suppressed", report.Suppressed)
	return report, nil
}

// dispatchTask sends task to every subscription whose filter it carries. Eligibility is
// decided once per task so that a single tick can fan out to several targets.
func (s *Scheduler) dispatchTask(ctx context.Context, log *slog.Logger, settings Settings, filters []string, task model.Task, now time.Time, report *Report) {
	key := task.Key()
	if !s.Cooldown.Ready(key, now, settings.Cooldown) {
		report.Suppressed++
		return
	}

	attempted, delivered := false, false
	for _, filter := range filters {
		if !task.HasTag(filter) {
			continue
		}
		target := settings.Subscriptions[filter]
		attempted = true

		result := DispatchResult{Key: key, Description: task.Description, Filter: filter, Target: target, At: now}
		if err := s.Sink.Send(ctx, target, notify.NewMessage(task, target, settings.VaultName)); err != nil {
			result.Error = err.Error()
			log.Error("notification delivery failed", "task", task.Description, "target", target, "error", err)
		} else {
			result.Delivered = true
			delivered = true
			log.Info("notification sent", "task", task.Description, "target", target)
		}
		report.Results = append(report.Results, result)
	}
	if !attempted {
		return
	}

	if delivered || settings.Policy == CooldownAlways {
		s.Cooldown.Mark(key, task.Description, now)
	}
	if settings.InApp && s.Notifier != nil {
		s.Notifier.Notice(notify.DueText(task.Description))
	}
}

// Run ticks every interval until ctx is done. settings is consulted before each tick so
// configuration changes take effect without a restart. An overlapping tick is skipped.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, settings func() Settings) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runOnce(ctx, settings)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx, settings)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, settings func() Settings) {
	cfg := settings()
	if len(cfg.Subscriptions.Filters()) == 0 {
		s.logger().Debug("no subscriptions configured, skipping tick")
		return
	}
	if _, err := s.Tick(ctx, cfg); errors.Is(err, ErrTickInProgress) {
		s.logger().Warn("previous tick still running, skipping")
	}
}

// LastReport returns the report of the most recent completed tick, or nil.
func (s *Scheduler) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
