package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultDedupeTTL = 24 * time.Hour

// RedisDeduper claims provider idempotency keys with SET NX so concurrent
// deliveries of one event are processed by a single replica.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeduper falls back to a no-op deduper when Redis is disabled; the
// processed-event lookup in the database still catches sequential duplicates.
func NewDeduper(client *redis.Client, cfg config.Config, log *zap.Logger) domain.Deduper {
	if client == nil {
		log.Named("payment.webhook").Info("webhook dedupe uses database only")
		return NoopDeduper{}
	}
	return NewRedisDeduper(client, cfg.Webhook.DedupeTTL)
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(providerID snowflake.ID, eventType, key string) string {
	return fmt.Sprintf("payhub:webhook:%d:%s:%s", providerID, eventType, key)
}

func (d *RedisDeduper) Claim(ctx context.Context, providerID snowflake.ID, eventType, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, dedupeKey(providerID, eventType, key), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("webhook dedupe claim: %w", err)
	}
	return ok, nil
}

// Release drops a claim so a failed delivery can be retried by the provider.
func (d *RedisDeduper) Release(ctx context.Context, providerID snowflake.ID, eventType, key string) error {
	if key == "" {
		return nil
	}
	return d.client.Del(ctx, dedupeKey(providerID, eventType, key)).Err()
}

type NoopDeduper struct{}

func (NoopDeduper) Claim(context.Context, snowflake.ID, string, string) (bool, error) {
	return true, nil
}

func (NoopDeduper) Release(context.Context, snowflake.ID, string, string) error {
	return nil
}
