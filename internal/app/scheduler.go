/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for the scheduled jobs.
type Schedules struct {
	Settlement     string
	PromotionSweep string
	Location       *time.Location
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	opts := []cron.Option{cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))}
	if schedules.Location != nil {
		opts = append(opts, cron.WithLocation(schedules.Location))
	}

	return &Scheduler{
		cron:      cron.New(opts...),
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedules.Settlement, s.jobs.SettleDividends); err != nil {
		s.logger.Error("failed to schedule dividend settlement job", "error", err)
		return err
	}
	s.logger.Info("scheduled dividend settlement job", "schedule", s.schedules.Settlement)

	if _, err := s.cron.AddFunc(s.schedules.PromotionSweep, s.jobs.SweepPromotions); err != nil {
		s.logger.Error("failed to schedule promotion sweep job", "error", err)
		return err
	}
	s.logger.Info("scheduled promotion sweep job", "schedule", s.schedules.PromotionSweep)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
