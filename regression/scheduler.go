package regression

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Runner on a cron schedule, for instance "0 3 * * *" for
// every night at 3 AM.
type Scheduler struct {
	runner   *Runner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	last    *Summary
	lastErr error
}

// NewScheduler validates schedule, a standard five-field cron expression.
// An empty schedule disables the scheduler.
func NewScheduler(runner *Runner, schedule string) (*Scheduler, error) {
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
		}
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   slog.Default().With("component", "regression.scheduler"),
	}, nil
}

// Start schedules the runs. They use ctx, and the scheduler stops when ctx
// is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("regression schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunNow(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule regression runs: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("regression scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunNow runs the regression immediately and keeps its outcome for Last.
func (s *Scheduler) RunNow(ctx context.Context) {
	summary, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("regression run failed", "error", err)
	} else if !summary.Passed() {
		for _, r := range summary.Failing() {
			s.logger.Warn("rule no longer passes its tests", "rule_id", r.RuleID, "name", r.RuleName, "failed", r.Failed())
		}
	}

	s.mu.Lock()
	s.last, s.lastErr = summary, err
	s.mu.Unlock()
}

// Stop stops scheduling and waits for a running regression to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("regression scheduler stopped")
}

// IsRunning reports whether runs are scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Last returns the outcome of the latest run, if any.
func (s *Scheduler) Last() (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

// NextRun returns when the next run is due.
func (s *Scheduler) NextRun() (time.Time, bool) {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}
