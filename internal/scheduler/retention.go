package scheduler

import (
	"context"

	"go.uber.org/zap"
)

const retentionBatchSize = 500

// CleanupWebhookEventsJob deletes processed webhook events past retention.
// Failed and unprocessed events are kept for replay.
func (s *Scheduler) CleanupWebhookEventsJob(ctx context.Context) error {
	retention := s.cfg.WebhookRetention
	if retention <= 0 {
		s.log.Info("webhook retention disabled", zap.Duration("retention", retention))
		return nil
	}

	cutoff := s.clock.Now(ctx).Add(-retention)
	s.log.Info("cleaning up webhook events", zap.Time("cutoff", cutoff))

	deleted, err := s.engine.PurgeWebhookEvents(ctx, cutoff, retentionBatchSize)
	if err != nil {
		return err
	}
	s.log.Info("cleanup webhook events completed", zap.Int64("deleted", deleted))
	return nil
}
