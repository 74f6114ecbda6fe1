package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/spendlog/connector/internal/config"
	"github.com/spendlog/connector/internal/database"
)

// Scheduler runs the periodic SQL maintenance task using gocron.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.MaintenanceConfig
	store     database.Store
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(logger *slog.Logger, cfg *config.MaintenanceConfig, store database.Store) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
		cfg:       cfg,
		store:     store,
	}, nil
}

// Start schedules the maintenance job (if enabled) and starts the
// scheduler's internal ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if !s.cfg.Enabled {
		s.logger.Info("SQL maintenance task disabled")
		s.scheduler.Start()
		s.running = true
		return nil
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(s.cfg.Schedule, true), // true = cron expression with seconds field
		gocron.NewTask(func(ctx context.Context) {
			s.logger.Info("Running scheduled SQL maintenance")
			startTime := time.Now()
			if err := s.store.RunSQLMaintenance(ctx); err != nil {
				s.logger.Error("SQL maintenance failed", "error", err, "duration", time.Since(startTime))
				return
			}
			s.logger.Info("SQL maintenance finished", "duration", time.Since(startTime))
		}, context.Background()),
		gocron.WithName("sql_maintenance"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sql maintenance: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
		s.running = false
		return err
	}

	s.running = false
	s.logger.Info("Scheduler stopped gracefully.")
	return nil
}
