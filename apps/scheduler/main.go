package main

import (
	"context"

	"github.com/finbridge/payhub/internal/bootstrap"
	"github.com/finbridge/payhub/internal/clock"
	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/events"
	"github.com/finbridge/payhub/internal/observability"
	"github.com/finbridge/payhub/internal/payment"
	"github.com/finbridge/payhub/internal/redis"
	"github.com/finbridge/payhub/internal/scheduler"
	"github.com/finbridge/payhub/internal/security/vault"
	"github.com/finbridge/payhub/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		redis.Module,
		vault.Module,
		events.Module,
		bootstrap.Module,
		fx.Invoke(bootstrap.EnforceSchemaGate),

		payment.Module,

		scheduler.Module,
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
