package observability

import (
	"github.com/finbridge/payhub/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		NewLogger,
		NewRegistry,
		func(reg *prometheus.Registry) prometheus.Registerer { return reg },
		func(reg *prometheus.Registry) prometheus.Gatherer { return reg },
		NewMetrics,
		NewTracerProvider,
	),
	fx.Invoke(func(loader *config.Loader, level zap.AtomicLevel, log *zap.Logger) {
		loader.WatchLogLevel(level, log.Named("config"))
	}),
	// Constructing the provider installs it globally for gorm and gin spans.
	fx.Invoke(func(trace.TracerProvider) {}),
)
