// Package scheduler runs the periodic cache jobs: purging expired entries and
// optionally prefetching current weather for every saved location.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const defaultJobTimeout = 30 * time.Second

type Sweeper interface {
	Sweep(ctx context.Context) int
}

type ZipCodeLister interface {
	ZipCodes() []string
}

type Config struct {
	// SweepInterval <= 0 disables the sweep job.
	SweepInterval time.Duration
	// WarmInterval <= 0 disables the warm job.
	WarmInterval time.Duration
	JobTimeout   time.Duration
}

type Scheduler struct {
	scheduler *gocron.Scheduler
	cfg       Config
	sweeper   Sweeper
	locations ZipCodeLister
	warmer    *CacheWarmer
	logger    *zap.Logger
}

func New(cfg Config, sweeper Sweeper, locations ZipCodeLister, warmer *CacheWarmer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		cfg:       cfg,
		sweeper:   sweeper,
		locations: locations,
		warmer:    warmer,
		logger:    logger,
	}
}

// Start registers the enabled jobs and starts them in the background. The
// sweep first runs one interval after start; the warm runs immediately.
func (s *Scheduler) Start() error {
	jobs := 0
	if s.cfg.SweepInterval > 0 && s.sweeper != nil {
		if _, err := s.scheduler.Every(s.cfg.SweepInterval).WaitForSchedule().SingletonMode().Do(s.runSweepJob); err != nil {
			return fmt.Errorf("schedule cache sweep: %w", err)
		}
		jobs++
	}
	if s.cfg.WarmInterval > 0 && s.warmer != nil && s.locations != nil {
		if _, err := s.scheduler.Every(s.cfg.WarmInterval).SingletonMode().Do(s.runWarmJob); err != nil {
			return fmt.Errorf("schedule cache warm: %w", err)
		}
		jobs++
	}
	if jobs == 0 {
		s.logger.Info("scheduler: no jobs enabled")
		return nil
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started",
		zap.Duration("sweepInterval", s.cfg.SweepInterval), zap.Duration("warmInterval", s.cfg.WarmInterval))
	return nil
}

// Stop stops the scheduler. Running jobs are not interrupted.
func (s *Scheduler) Stop() {
	if s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}

// RunSweep purges expired and corrupt cache entries and returns how many were removed.
func (s *Scheduler) RunSweep(ctx context.Context) int {
	removed := s.sweeper.Sweep(ctx)
	if removed > 0 {
		s.logger.Info("cache sweep removed entries", zap.Int("removed", removed))
	}
	return removed
}

// RunWarm prefetches current weather for every saved location.
func (s *Scheduler) RunWarm(ctx context.Context) error {
	zips := s.locations.ZipCodes()
	if len(zips) == 0 {
		return nil
	}
	return s.warmer.Warm(ctx, zips)
}

func (s *Scheduler) runSweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	s.RunSweep(ctx)
}

func (s *Scheduler) runWarmJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	if err := s.RunWarm(ctx); err != nil {
		s.logger.Warn("periodic cache warm failed", zap.Error(err))
	}
}
