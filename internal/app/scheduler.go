/**
 * @description
 * Cron scheduler for the background reconciliation job.
 */
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const reconcileJobTimeout = 2 * time.Minute

// Reconciliation retries stored remote-success/local-failure records.
type Reconciliation interface {
	RunOnce(ctx context.Context) (int, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciliation
	schedule   string
	logger     *zap.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(reconciler Reconciliation, schedule string, logger *zap.Logger) *Scheduler {
	logger = nopIfNil(logger).With(zap.String("component", "scheduler"))
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		schedule:   schedule,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunReconciliation); err != nil {
		s.logger.Error("failed to schedule reconciliation job", zap.String("schedule", s.schedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled reconciliation job", zap.String("schedule", s.schedule))

	s.cron.Start()
	return nil
}

// RunReconciliation is the body of the reconciliation job.
func (s *Scheduler) RunReconciliation() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileJobTimeout)
	defer cancel()

	resolved, err := s.reconciler.RunOnce(ctx)
	if err != nil {
		s.logger.Error("reconciliation job failed", zap.Error(err))
		return
	}
	if resolved > 0 {
		s.logger.Info("reconciliation job finished", zap.Int("resolved", resolved))
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
