package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

const defaultInterval = 30 * time.Minute

// Ingester is the part of mix.Service the scheduler drives.
type Ingester interface {
	Ingest(ctx context.Context, now time.Time) (mix.RunReport, error)
}

// Config controls when ingestion runs.
type Config struct {
	// Schedule is a standard cron expression; it wins over Interval.
	Schedule   string
	Interval   time.Duration
	RunTimeout time.Duration
}

// Scheduler periodically runs ingestion.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Ingester
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a new Scheduler.
func New(cfg Config, service Ingester, logger *zap.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	// a slow upstream must not stack runs on top of each other
	s.SingletonModeAll()

	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: s,
		service:   service,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// Interval schedules fire immediately; cron schedules wait for the first match.
func (s *Scheduler) Start() error {
	if s.service == nil {
		return errors.New("scheduler: no ingestion service configured")
	}

	var err error
	if s.cfg.Schedule != "" {
		_, err = s.scheduler.Cron(s.cfg.Schedule).Do(s.runOnce)
		s.logger.Info("scheduler: cron schedule registered", zap.String("schedule", s.cfg.Schedule))
	} else {
		interval := s.cfg.Interval
		if interval <= 0 {
			interval = defaultInterval
		}
		_, err = s.scheduler.Every(interval).Do(s.runOnce)
		s.logger.Info("scheduler: interval registered", zap.Duration("interval", interval))
	}
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) runOnce() {
	s.logger.Info("scheduler: running ingestion job")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	report, err := s.service.Ingest(ctx, s.now())
	if err != nil {
		// the next tick recomputes the watermark, so a failed run is simply retried
		s.logger.Warn("scheduler: ingestion failed; will retry on next tick",
			zap.String("run_id", report.ID), zap.Error(err))
		return
	}
	s.logger.Info("scheduler: completed ingestion job", zap.String("run_id", report.ID))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
