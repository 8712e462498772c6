package main

import (
	"testing"

	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/migration"
	"github.com/finbridge/payhub/internal/observability"
	"github.com/finbridge/payhub/internal/scheduler"
	"github.com/finbridge/payhub/internal/server"
	"github.com/finbridge/payhub/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestDependencyGraphs(t *testing.T) {
	graphs := map[string][]fx.Option{
		"migrate":   {config.Module, observability.Module, db.Module, migration.Module},
		"serve":     append(core(), server.Module),
		"scheduler": append(core(), scheduler.Module, fx.Invoke(startScheduler)),
		"all":       append(core(), server.Module, scheduler.Module, fx.Invoke(startScheduler)),
	}
	for name, opts := range graphs {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, fx.ValidateApp(opts...))
		})
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	names := []string{}
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "serve", "scheduler", "all"}, names)
}
