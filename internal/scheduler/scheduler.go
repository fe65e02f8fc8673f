package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskflow/internal/config"
	"taskflow/internal/engine"
	"taskflow/internal/logger"
	"taskflow/internal/metrics"
)

// Jobs is the subset of the engine the scheduler drives.
type Jobs interface {
	RefreshDailySummaries(ctx context.Context, date time.Time) (int, error)
	Cleanup(ctx context.Context) (engine.CleanupResult, error)
}

// Scheduler runs the nightly summary refresh and retention cleanup.
type Scheduler struct {
	cron    *cron.Cron
	jobs    Jobs
	cfg     *config.Config
	now     func() time.Time
	mu      sync.Mutex
	running bool
}

func New(jobs Jobs, cfg *config.Config) *Scheduler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(cfg.Location())),
		jobs: jobs,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.cfg.Policy() == config.PolicyRefreshNightly && s.cfg.Analytics.RefreshCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.Analytics.RefreshCron, s.RunRefresh); err != nil {
			return fmt.Errorf("add refresh job: %w", err)
		}
		logger.Info("summary refresh scheduled at %q", s.cfg.Analytics.RefreshCron)
	}
	if s.cfg.Storage.RetentionDays > 0 && s.cfg.Analytics.CleanupCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.Analytics.CleanupCron, s.RunCleanup); err != nil {
			return fmt.Errorf("add cleanup job: %w", err)
		}
		logger.Info("retention cleanup scheduled at %q (%d days)", s.cfg.Analytics.CleanupCron, s.cfg.Storage.RetentionDays)
	}
	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunRefresh recomputes yesterday's summaries.
func (s *Scheduler) RunRefresh() {
	day := s.now().In(s.cfg.Location()).AddDate(0, 0, -1)
	n, err := s.jobs.RefreshDailySummaries(context.Background(), day)
	metrics.CronRuns.WithLabelValues("refresh", metrics.Outcome(err)).Inc()
	if err != nil {
		logger.Error("summary refresh for %s: %v", day.Format("2006-01-02"), err)
		return
	}
	logger.Info("refreshed %d summaries for %s", n, day.Format("2006-01-02"))
}

func (s *Scheduler) RunCleanup() {
	res, err := s.jobs.Cleanup(context.Background())
	metrics.CronRuns.WithLabelValues("cleanup", metrics.Outcome(err)).Inc()
	if err != nil {
		logger.Error("retention cleanup: %v", err)
		return
	}
	logger.Info("retention cleanup removed %d activities, %d summaries", res.Activities, res.Summaries)
}
