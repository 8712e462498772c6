package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"gorm.io/gorm"
)

type providerRepo struct {
	db *gorm.DB
}

func NewProviderRepository(db *gorm.DB) domain.ProviderRepository {
	return &providerRepo{db: db}
}

func (r *providerRepo) conn(db *gorm.DB) *gorm.DB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *providerRepo) Insert(ctx context.Context, db *gorm.DB, provider *domain.Provider) error {
	return r.conn(db).WithContext(ctx).Create(provider).Error
}

func (r *providerRepo) Update(ctx context.Context, db *gorm.DB, provider *domain.Provider) error {
	if provider == nil {
		return gorm.ErrInvalidData
	}
	return r.conn(db).WithContext(ctx).Save(provider).Error
}

func (r *providerRepo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return r.conn(db).WithContext(ctx).Delete(&domain.Provider{}, id).Error
}

func (r *providerRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Provider, error) {
	var provider domain.Provider
	if err := r.conn(db).WithContext(ctx).First(&provider, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &provider, nil
}

func (r *providerRepo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Provider, error) {
	var provider domain.Provider
	if err := r.conn(db).WithContext(ctx).
		Where("code = ?", code).
		First(&provider).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &provider, nil
}

func (r *providerRepo) List(ctx context.Context, db *gorm.DB, filter domain.ProviderFilter) ([]*domain.Provider, error) {
	stmt := r.conn(db).WithContext(ctx).Model(&domain.Provider{})
	if filter.ProviderType != "" {
		stmt = stmt.Where("provider_type = ?", filter.ProviderType)
	}
	if filter.IsActive != nil {
		stmt = stmt.Where("is_active = ?", *filter.IsActive)
	}

	var items []*domain.Provider
	if err := stmt.Order("name asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// HasDependents reports whether any transaction, stored payment method or
// recurring configuration still points at the provider.
func (r *providerRepo) HasDependents(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	conn := r.conn(db).WithContext(ctx)
	for _, model := range []any{&domain.Transaction{}, &domain.PaymentMethod{}, &domain.RecurringPaymentConfig{}} {
		var count int64
		if err := conn.Model(model).Where("provider_id = ?", id).Count(&count).Error; err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}
