package events

import (
	"context"

	"github.com/finbridge/payhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if !cfg.Kafka.Enabled {
		return NoopPublisher{}
	}

	pub := NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("events.kafka"))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub
}
