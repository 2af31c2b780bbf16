package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/robfig/cron/v3"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron       *cron.Cron
	reconciler *Reconciler
	logger     logger.Logger
	timeout    time.Duration
}

// NewCronManager creates a new cron manager
func NewCronManager(reconciler *Reconciler, log logger.Logger) *CronManager {
	if log == nil {
		log = logger.Default()
	}

	return &CronManager{
		// Skip a tick while the previous reconciliation is still running
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		reconciler: reconciler,
		logger:     log.With("component", "cron"),
		timeout:    10 * time.Minute,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs(reconcileSchedule string) error {
	_, err := cm.cron.AddFunc(reconcileSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cm.timeout)
		defer cancel()

		if _, err := cm.reconciler.Run(ctx); err != nil {
			cm.logger.Error("reconciliation failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", reconcileSchedule, err)
	}

	cm.logger.Info("cron jobs configured", "reconcile_schedule", reconcileSchedule)
	return nil
}

// Entries returns the number of scheduled jobs
func (cm *CronManager) Entries() int {
	return len(cm.cron.Entries())
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.logger.Info("starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the scheduler and waits for a running job until ctx is done
func (cm *CronManager) Stop(ctx context.Context) {
	cm.logger.Info("stopping cron scheduler")
	select {
	case <-cm.cron.Stop().Done():
	case <-ctx.Done():
		cm.logger.Warn("cron job still running at shutdown")
	}
}

// GetReconciler returns the reconciler (for manual triggers)
func (cm *CronManager) GetReconciler() *Reconciler {
	return cm.reconciler
}
