package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type ProviderRepository interface {
	Insert(ctx context.Context, db *gorm.DB, provider *Provider) error
	Update(ctx context.Context, db *gorm.DB, provider *Provider) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Provider, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Provider, error)
	List(ctx context.Context, db *gorm.DB, filter ProviderFilter) ([]*Provider, error)
	HasDependents(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
}

type TransactionRepository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	Update(ctx context.Context, db *gorm.DB, txn *Transaction) error
	DeleteUnsent(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, providerID snowflake.ID, externalID string) (*Transaction, error)
	ListRefunds(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]*Transaction, error)
	List(ctx context.Context, db *gorm.DB, filter TransactionFilter, page pagination.Pagination) ([]*Transaction, error)
	ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]*Transaction, error)
}

type PaymentMethodRepository interface {
	Insert(ctx context.Context, db *gorm.DB, pm *PaymentMethod) error
	Update(ctx context.Context, db *gorm.DB, pm *PaymentMethod) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentMethod, error)
	FindByNaturalKey(ctx context.Context, db *gorm.DB, providerID snowflake.ID, clientID int64, token string) (*PaymentMethod, error)
	FindActiveByToken(ctx context.Context, db *gorm.DB, providerID snowflake.ID, token string) (*PaymentMethod, error)
	ClearDefault(ctx context.Context, db *gorm.DB, providerID snowflake.ID, clientID int64, exceptID snowflake.ID) error
	List(ctx context.Context, db *gorm.DB, filter PaymentMethodFilter) ([]*PaymentMethod, error)
}

type RecurringRepository interface {
	Insert(ctx context.Context, db *gorm.DB, cfg *RecurringPaymentConfig) error
	Update(ctx context.Context, db *gorm.DB, cfg *RecurringPaymentConfig) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RecurringPaymentConfig, error)
	List(ctx context.Context, db *gorm.DB, filter RecurringFilter) ([]*RecurringPaymentConfig, error)
}

type WebhookEventRepository interface {
	Insert(ctx context.Context, db *gorm.DB, evt *WebhookEvent) error
	Update(ctx context.Context, db *gorm.DB, evt *WebhookEvent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookEvent, error)
	FindProcessedByKey(ctx context.Context, db *gorm.DB, providerID snowflake.ID, eventType, key string) (*WebhookEvent, error)
	List(ctx context.Context, db *gorm.DB, filter WebhookEventFilter) ([]*WebhookEvent, error)
	DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// Deduper guards webhook processing across replicas. Claim returns false when
// another delivery with the same key already holds or finished the claim.
type Deduper interface {
	Claim(ctx context.Context, providerID snowflake.ID, eventType, key string) (bool, error)
	Release(ctx context.Context, providerID snowflake.ID, eventType, key string) error
}
