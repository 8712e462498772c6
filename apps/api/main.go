package main

import (
	"github.com/finbridge/payhub/internal/bootstrap"
	"github.com/finbridge/payhub/internal/clock"
	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/events"
	"github.com/finbridge/payhub/internal/observability"
	"github.com/finbridge/payhub/internal/payment"
	"github.com/finbridge/payhub/internal/redis"
	"github.com/finbridge/payhub/internal/security/vault"
	"github.com/finbridge/payhub/internal/server"
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
		server.Module,
	)
	app.Run()
}
