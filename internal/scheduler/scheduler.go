package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finbridge/payhub/internal/clock"
	"github.com/finbridge/payhub/internal/config"
	paymentservice "github.com/finbridge/payhub/internal/payment/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(func(s *paymentservice.Service) Engine { return s }),
	fx.Provide(NewScheduler),
)

// Engine is the part of the reconciliation engine the background jobs drive.
type Engine interface {
	ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error)
	PurgeWebhookEvents(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Engine Engine
	Redis  *redis.Client `optional:"true"`
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Scheduler runs the periodic reconcile and retention jobs. With Redis
// configured, a job run is claimed with a lease so only one replica executes
// it per interval.
type Scheduler struct {
	cfg    config.SchedulerConfig
	log    *zap.Logger
	clock  clock.Clock
	engine Engine
	redis  *redis.Client
	jobs   []job
}

func NewScheduler(p Params) *Scheduler {
	s := &Scheduler{
		cfg:    p.Cfg.Scheduler,
		log:    p.Log.Named("scheduler"),
		clock:  p.Clock,
		engine: p.Engine,
		redis:  p.Redis,
	}
	if s.clock == nil {
		s.clock = clock.SystemClock{}
	}
	s.jobs = []job{
		{name: "reconcile_pending", interval: s.cfg.ReconcileInterval, run: s.ReconcilePendingJob},
		{name: "cleanup_webhook_events", interval: s.cfg.RetentionInterval, run: s.CleanupWebhookEventsJob},
	}
	return s
}

// RunForever blocks until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		if j.interval <= 0 {
			s.log.Info("job disabled", zap.String("job", j.name))
			continue
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	s.runOnce(ctx, j)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	owner, err := s.claim(ctx, j)
	if err != nil {
		s.log.Warn("job lease failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	if !owner {
		s.log.Debug("job owned by another replica", zap.String("job", j.name))
		return
	}

	started := time.Now()
	s.log.Info("job started", zap.String("job", j.name))
	if err := j.run(ctx); err != nil {
		s.log.Error("job failed",
			zap.String("job", j.name),
			zap.Duration("took", time.Since(started)),
			zap.Error(err))
		return
	}
	s.log.Info("job finished",
		zap.String("job", j.name),
		zap.Duration("took", time.Since(started)))
}

// claim takes a lease slightly shorter than the interval so the next tick on
// any replica can run the job again.
func (s *Scheduler) claim(ctx context.Context, j job) (bool, error) {
	if s.redis == nil {
		return true, nil
	}
	lease := j.interval - j.interval/10
	if lease <= 0 {
		lease = j.interval
	}
	key := fmt.Sprintf("payhub:scheduler:%s", j.name)
	return s.redis.SetNX(ctx, key, s.clock.Now(ctx).Format(time.RFC3339), lease).Result()
}
