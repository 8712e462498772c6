package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"gorm.io/gorm"
)

type paymentMethodRepo struct {
	db *gorm.DB
}

func NewPaymentMethodRepository(db *gorm.DB) domain.PaymentMethodRepository {
	return &paymentMethodRepo{db: db}
}

func (r *paymentMethodRepo) conn(db *gorm.DB) *gorm.DB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *paymentMethodRepo) Insert(ctx context.Context, db *gorm.DB, pm *domain.PaymentMethod) error {
	return r.conn(db).WithContext(ctx).Create(pm).Error
}

func (r *paymentMethodRepo) Update(ctx context.Context, db *gorm.DB, pm *domain.PaymentMethod) error {
	if pm == nil {
		return gorm.ErrInvalidData
	}
	return r.conn(db).WithContext(ctx).Save(pm).Error
}

func (r *paymentMethodRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentMethod, error) {
	return r.first(r.conn(db).WithContext(ctx).Where("id = ?", id))
}

func (r *paymentMethodRepo) FindByNaturalKey(ctx context.Context, db *gorm.DB, providerID snowflake.ID, clientID int64, token string) (*domain.PaymentMethod, error) {
	return r.first(r.conn(db).WithContext(ctx).
		Where("provider_id = ? AND client_id = ? AND token = ?", providerID, clientID, token))
}

func (r *paymentMethodRepo) FindActiveByToken(ctx context.Context, db *gorm.DB, providerID snowflake.ID, token string) (*domain.PaymentMethod, error) {
	return r.first(r.conn(db).WithContext(ctx).
		Where("provider_id = ? AND token = ? AND is_active = ?", providerID, token, true))
}

func (r *paymentMethodRepo) first(stmt *gorm.DB) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	if err := stmt.First(&pm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pm, nil
}

// ClearDefault unsets the default flag on every other method the client holds
// with the provider.
func (r *paymentMethodRepo) ClearDefault(ctx context.Context, db *gorm.DB, providerID snowflake.ID, clientID int64, exceptID snowflake.ID) error {
	return r.conn(db).WithContext(ctx).
		Model(&domain.PaymentMethod{}).
		Where("provider_id = ? AND client_id = ? AND id <> ? AND is_default = ?", providerID, clientID, exceptID, true).
		Updates(map[string]any{"is_default": false, "updated_at": time.Now().UTC()}).Error
}

func (r *paymentMethodRepo) List(ctx context.Context, db *gorm.DB, filter domain.PaymentMethodFilter) ([]*domain.PaymentMethod, error) {
	stmt := r.conn(db).WithContext(ctx).Model(&domain.PaymentMethod{})
	if filter.ProviderID != 0 {
		stmt = stmt.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.ClientID != 0 {
		stmt = stmt.Where("client_id = ?", filter.ClientID)
	}
	if filter.ActiveOnly {
		stmt = stmt.Where("is_active = ?", true)
	}

	var items []*domain.PaymentMethod
	if err := stmt.Order("is_default desc, created_at desc, id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
