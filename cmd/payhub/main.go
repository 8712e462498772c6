package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/finbridge/payhub/internal/bootstrap"
	"github.com/finbridge/payhub/internal/clock"
	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/events"
	"github.com/finbridge/payhub/internal/migration"
	"github.com/finbridge/payhub/internal/observability"
	"github.com/finbridge/payhub/internal/payment"
	"github.com/finbridge/payhub/internal/redis"
	"github.com/finbridge/payhub/internal/scheduler"
	"github.com/finbridge/payhub/internal/security/vault"
	"github.com/finbridge/payhub/internal/server"
	"github.com/finbridge/payhub/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "payhub",
		Short:   "Payment gateway adapters and transaction reconciliation",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and activate schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the action API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(append(core(), server.Module)...).Run()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run pending reconciliation and webhook retention jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(append(core(), scheduler.Module, fx.Invoke(startScheduler))...).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(append(core(), server.Module, scheduler.Module, fx.Invoke(startScheduler))...).Run()
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

// core wires everything the engine needs and refuses to start against a
// schema that was not migrated to this build.
func core() []fx.Option {
	return []fx.Option{
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
	}
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
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
