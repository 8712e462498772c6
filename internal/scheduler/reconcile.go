package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// ReconcilePendingJob re-checks transactions that stayed pending longer than
// the configured age.
func (s *Scheduler) ReconcilePendingJob(ctx context.Context) error {
	cutoff := s.clock.Now(ctx).Add(-s.cfg.ReconcileAfter)
	settled, err := s.engine.ReconcilePending(ctx, cutoff, s.cfg.ReconcileBatchSize)
	if err != nil {
		return err
	}
	s.log.Info("reconcile pending completed",
		zap.Time("cutoff", cutoff),
		zap.Int("settled", settled))
	return nil
}
