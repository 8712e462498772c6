package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"gorm.io/gorm"
)

type recurringRepo struct {
	db *gorm.DB
}

func NewRecurringRepository(db *gorm.DB) domain.RecurringRepository {
	return &recurringRepo{db: db}
}

func (r *recurringRepo) conn(db *gorm.DB) *gorm.DB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *recurringRepo) Insert(ctx context.Context, db *gorm.DB, cfg *domain.RecurringPaymentConfig) error {
	return r.conn(db).WithContext(ctx).Create(cfg).Error
}

func (r *recurringRepo) Update(ctx context.Context, db *gorm.DB, cfg *domain.RecurringPaymentConfig) error {
	if cfg == nil {
		return gorm.ErrInvalidData
	}
	return r.conn(db).WithContext(ctx).Save(cfg).Error
}

func (r *recurringRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.RecurringPaymentConfig, error) {
	var cfg domain.RecurringPaymentConfig
	if err := r.conn(db).WithContext(ctx).First(&cfg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *recurringRepo) List(ctx context.Context, db *gorm.DB, filter domain.RecurringFilter) ([]*domain.RecurringPaymentConfig, error) {
	stmt := r.conn(db).WithContext(ctx).Model(&domain.RecurringPaymentConfig{})
	if filter.ProviderID != 0 {
		stmt = stmt.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.ClientID != 0 {
		stmt = stmt.Where("client_id = ?", filter.ClientID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}

	var items []*domain.RecurringPaymentConfig
	if err := stmt.Order("created_at desc, id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
