package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"gorm.io/gorm"
)

const defaultEventListLimit = 100

type webhookEventRepo struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) domain.WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) conn(db *gorm.DB) *gorm.DB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *webhookEventRepo) Insert(ctx context.Context, db *gorm.DB, evt *domain.WebhookEvent) error {
	return r.conn(db).WithContext(ctx).Create(evt).Error
}

func (r *webhookEventRepo) Update(ctx context.Context, db *gorm.DB, evt *domain.WebhookEvent) error {
	if evt == nil {
		return gorm.ErrInvalidData
	}
	return r.conn(db).WithContext(ctx).Save(evt).Error
}

func (r *webhookEventRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookEvent, error) {
	var evt domain.WebhookEvent
	if err := r.conn(db).WithContext(ctx).First(&evt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// FindProcessedByKey returns the earliest processed event carrying the same
// provider idempotency key.
func (r *webhookEventRepo) FindProcessedByKey(ctx context.Context, db *gorm.DB, providerID snowflake.ID, eventType, key string) (*domain.WebhookEvent, error) {
	if key == "" {
		return nil, nil
	}
	var evt domain.WebhookEvent
	err := r.conn(db).WithContext(ctx).
		Where("provider_id = ? AND event_type = ? AND idempotency_key = ? AND status = ?",
			providerID, eventType, key, domain.WebhookEventProcessed).
		Order("created_at asc, id asc").
		First(&evt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

func (r *webhookEventRepo) List(ctx context.Context, db *gorm.DB, filter domain.WebhookEventFilter) ([]*domain.WebhookEvent, error) {
	stmt := r.conn(db).WithContext(ctx).Model(&domain.WebhookEvent{})
	if filter.ProviderID != 0 {
		stmt = stmt.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.EventType != "" {
		stmt = stmt.Where("event_type = ?", filter.EventType)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultEventListLimit
	}

	var items []*domain.WebhookEvent
	if err := stmt.Order("created_at desc, id desc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteProcessedBefore removes at most limit processed events created before
// cutoff. Ids are selected first because MySQL rejects LIMIT in a DELETE
// subquery.
func (r *webhookEventRepo) DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	conn := r.conn(db).WithContext(ctx)

	var ids []snowflake.ID
	if err := conn.Model(&domain.WebhookEvent{}).
		Where("status = ? AND created_at < ?", domain.WebhookEventProcessed, cutoff).
		Order("created_at asc").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn.Where("id IN ?", ids).Delete(&domain.WebhookEvent{})
	return res.RowsAffected, res.Error
}
